package protocol

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(EventTypeToken, "req-1", 3, map[string]any{"token": "hi"})

	assert.Equal(t, EventTypeToken, env.Type)
	assert.Equal(t, ProtocolVersion, env.ProtocolVersion)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, 3, env.Seq)
	assert.False(t, env.TS.IsZero())
}

func TestEnvelopeJSONShape(t *testing.T) {
	env := NewEnvelope(EventTypeDone, "req-1", 5, map[string]any{"status": StatusOK})

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "rag.done", decoded["type"])
	assert.Equal(t, "1.0", decoded["protocol_version"])
	assert.Equal(t, float64(5), decoded["seq"])
	assert.Contains(t, decoded, "ts")
}

func TestRequestContext_CancelIdempotent(t *testing.T) {
	rctx := NewRequestContext(context.Background(), "req-1")
	assert.False(t, rctx.Cancelled())

	rctx.Cancel()
	rctx.Cancel()
	assert.True(t, rctx.Cancelled())

	select {
	case <-rctx.Done():
	default:
		t.Fatal("Done channel should be closed after Cancel")
	}
	assert.Error(t, rctx.Context().Err())
}

func TestRequestContext_ParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	rctx := NewRequestContext(parent, "req-1")

	cancel()
	assert.True(t, rctx.Cancelled())
}

func TestClientMessageUnmarshal(t *testing.T) {
	raw := `{
		"type": "rag.request",
		"request_id": "abc",
		"payload": {"text": "what is late chunking?", "mode": "rag", "debug": true}
	}`
	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, MessageTypeRequest, msg.Type)
	assert.Equal(t, "abc", msg.RequestID)
	assert.Equal(t, "what is late chunking?", msg.Payload.Text)
	assert.Equal(t, ModeRAG, msg.Payload.Mode)
	assert.True(t, msg.Payload.Debug)
}
