// Package protocol defines the wire-level contract between the orchestrator
// and its clients: event envelopes, request context, user input, and
// execution plans.
//
// Every server → client message is an Envelope. Within a single request,
// envelopes carry strictly increasing sequence numbers starting at 1,
// assigned by the orchestrator's single emit path. The sink serializes
// writes per request, so clients can rely on seq order for rendering.
package protocol

import (
	"context"
	"time"
)

// ProtocolVersion is the envelope protocol version sent to clients.
const ProtocolVersion = "1.0"

// Server → client event types.
const (
	EventTypeStarted = "rag.started"
	EventTypeSources = "rag.sources"
	EventTypeToken   = "rag.token"
	EventTypeMessage = "rag.message"
	EventTypeResults = "rag.results"
	EventTypeError   = "rag.error"
	EventTypeDone    = "rag.done"
)

// Client → server message types.
const (
	MessageTypeRequest = "rag.request"
	MessageTypeCancel  = "rag.cancel"
)

// Terminal status values carried in rag.started / rag.done payloads.
const (
	StatusRunning   = "running"
	StatusOK        = "ok"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// Envelope is the stable event envelope for UI consumption.
type Envelope struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	RequestID       string         `json:"request_id"`
	Seq             int            `json:"seq"`
	TS              time.Time      `json:"ts"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// NewEnvelope creates an envelope stamped with the protocol version and the
// current time. Seq is assigned by the caller (the orchestrator's emit path).
func NewEnvelope(eventType, requestID string, seq int, payload map[string]any) *Envelope {
	return &Envelope{
		Type:            eventType,
		ProtocolVersion: ProtocolVersion,
		RequestID:       requestID,
		Seq:             seq,
		TS:              time.Now().UTC(),
		Payload:         payload,
	}
}

// EventSink delivers envelopes to a client. Implementations must serialize
// writes for a single request (single-writer discipline); the WebSocket sink
// does this with a per-connection lock.
type EventSink interface {
	Emit(ctx context.Context, event *Envelope) error
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Type      string    `json:"type"`                 // "rag.request", "rag.cancel"
	RequestID string    `json:"request_id,omitempty"` // client-chosen; server generates one if empty
	Payload   UserInput `json:"payload,omitempty"`    // for rag.request
}
