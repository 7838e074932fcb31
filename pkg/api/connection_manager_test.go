package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiblox/orchestrator/pkg/orchestrator"
	"github.com/aiblox/orchestrator/pkg/protocol"
)

func newWSTestServer(t *testing.T, runtime orchestrator.Runtime) (*Server, *httptest.Server) {
	t.Helper()
	runner := orchestrator.NewStepRunner(
		nil,
		orchestrator.NoopToolRunner{},
		orchestrator.NoopAgentRunner{},
		orchestrator.AcceptAllValidator{},
		runtime,
	)
	server := NewServer(nil, NewConnectionManager(orchestrator.New(runner), 5*time.Second))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Consume the connection.established greeting.
	var greeting map[string]any
	readJSON(t, conn, &greeting)
	require.Equal(t, "connection.established", greeting["type"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// readUntilDone collects envelopes for one request until rag.done.
func readUntilDone(t *testing.T, conn *websocket.Conn) []protocol.Envelope {
	t.Helper()
	var events []protocol.Envelope
	for {
		var env protocol.Envelope
		readJSON(t, conn, &env)
		events = append(events, env)
		if env.Type == protocol.EventTypeDone {
			return events
		}
	}
}

func TestWebSocket_RequestLifecycle(t *testing.T) {
	_, ts := newWSTestServer(t, &orchestrator.EchoRuntime{})
	conn := dialWS(t, ts)

	sendJSON(t, conn, protocol.ClientMessage{
		Type:      protocol.MessageTypeRequest,
		RequestID: "req-1",
		Payload:   protocol.UserInput{Text: "hello world", Mode: protocol.ModeChat},
	})

	events := readUntilDone(t, conn)
	require.GreaterOrEqual(t, len(events), 4)

	assert.Equal(t, protocol.EventTypeStarted, events[0].Type)
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, "req-1", e.RequestID)
	}

	var message string
	for _, e := range events {
		if e.Type == protocol.EventTypeMessage {
			message = e.Payload["message"].(string)
		}
	}
	assert.Equal(t, "hello world ", message)
	assert.Equal(t, protocol.StatusOK, events[len(events)-1].Payload["status"])
}

func TestWebSocket_Cancel(t *testing.T) {
	_, ts := newWSTestServer(t, &orchestrator.EchoRuntime{TokenDelay: 10 * time.Millisecond})
	conn := dialWS(t, ts)

	sendJSON(t, conn, protocol.ClientMessage{
		Type:      protocol.MessageTypeRequest,
		RequestID: "req-2",
		Payload:   protocol.UserInput{Text: "a b c d e f g h i j k l m n o p", Mode: protocol.ModeChat},
	})
	time.Sleep(25 * time.Millisecond)
	sendJSON(t, conn, protocol.ClientMessage{
		Type:      protocol.MessageTypeCancel,
		RequestID: "req-2",
	})

	events := readUntilDone(t, conn)
	assert.Equal(t, protocol.StatusCancelled, events[len(events)-1].Payload["status"])
	for _, e := range events {
		assert.NotEqual(t, protocol.EventTypeError, e.Type)
	}
}

func TestWebSocket_CancelUnknownRequestIgnored(t *testing.T) {
	_, ts := newWSTestServer(t, &orchestrator.EchoRuntime{})
	conn := dialWS(t, ts)

	// Unknown ids are dropped silently; the connection keeps working.
	sendJSON(t, conn, protocol.ClientMessage{
		Type:      protocol.MessageTypeCancel,
		RequestID: "never-started",
	})
	sendJSON(t, conn, protocol.ClientMessage{
		Type:      protocol.MessageTypeRequest,
		RequestID: "req-3",
		Payload:   protocol.UserInput{Text: "still works", Mode: protocol.ModeChat},
	})

	events := readUntilDone(t, conn)
	assert.Equal(t, protocol.StatusOK, events[len(events)-1].Payload["status"])
}

func TestWebSocket_ServerGeneratedRequestID(t *testing.T) {
	_, ts := newWSTestServer(t, &orchestrator.EchoRuntime{})
	conn := dialWS(t, ts)

	sendJSON(t, conn, protocol.ClientMessage{
		Type:    protocol.MessageTypeRequest,
		Payload: protocol.UserInput{Text: "hi", Mode: protocol.ModeChat},
	})

	events := readUntilDone(t, conn)
	assert.NotEmpty(t, events[0].RequestID, "server assigns a request id when the client omits one")
}

func dialWSWithOrigin(ts *httptest.Server, origin string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{origin}},
	})
	return conn, err
}

func TestWebSocket_CrossOriginRejected(t *testing.T) {
	_, ts := newWSTestServer(t, &orchestrator.EchoRuntime{})

	conn, err := dialWSWithOrigin(ts, "https://evil.example")
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	require.Error(t, err, "handshake from an unlisted origin must be refused")
}

func TestWebSocket_AllowedOriginAccepted(t *testing.T) {
	server, ts := newWSTestServer(t, &orchestrator.EchoRuntime{})
	server.SetAllowedOrigins([]string{"app.example"})

	conn, err := dialWSWithOrigin(ts, "https://app.example")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	var greeting map[string]any
	readJSON(t, conn, &greeting)
	assert.Equal(t, "connection.established", greeting["type"])
}

func TestWebSocket_SameHostOriginAccepted(t *testing.T) {
	_, ts := newWSTestServer(t, &orchestrator.EchoRuntime{})

	// The server's own host passes without any allowlist entry.
	conn, err := dialWSWithOrigin(ts, ts.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	var greeting map[string]any
	readJSON(t, conn, &greeting)
	assert.Equal(t, "connection.established", greeting["type"])
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newWSTestServer(t, &orchestrator.EchoRuntime{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}
