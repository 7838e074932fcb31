package protocol

import (
	"context"
	"time"
)

// RequestContext is the per-request identity and cancellation carrier,
// threaded into every component call. It is created on request admission and
// never shared across requests.
//
// Cancellation is a set-once flag backed by a context.Context so repository
// and runtime calls observe it natively. Cancel is idempotent; it may be
// called by the client (rag.cancel), by transport disconnect, or by the
// orchestration task's own teardown.
type RequestContext struct {
	RequestID string
	TraceID   string
	StartedAt time.Time
	Metadata  map[string]any

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRequestContext creates a request context derived from parent.
// Cancelling the parent cancels the request as well.
func NewRequestContext(parent context.Context, requestID string) *RequestContext {
	ctx, cancel := context.WithCancel(parent)
	return &RequestContext{
		RequestID: requestID,
		StartedAt: time.Now().UTC(),
		Metadata:  make(map[string]any),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Cancel sets the cancellation flag. Safe to call multiple times and from
// any goroutine.
func (c *RequestContext) Cancel() {
	c.cancel()
}

// Cancelled reports whether cancellation has been requested. It never blocks.
func (c *RequestContext) Cancelled() bool {
	return c.ctx.Err() != nil
}

// Done returns a channel closed when the request is cancelled, for
// suspension-point integration (select alongside other channels).
func (c *RequestContext) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns the context.Context carrying this request's cancellation
// signal, for passing to repositories and runtimes.
func (c *RequestContext) Context() context.Context {
	return c.ctx
}

// Input modes accepted in UserInput.Mode. Unknown modes fall back to chat.
const (
	ModeChat   = "chat"
	ModeRAG    = "rag"
	ModeTool   = "tool"
	ModeHybrid = "hybrid"
)

// UserInput is the client-provided input for one request.
type UserInput struct {
	Text           string         `json:"text"`
	Mode           string         `json:"mode,omitempty"` // chat | rag | tool | hybrid
	Metadata       map[string]any `json:"metadata,omitempty"`
	RetrievalPrefs map[string]any `json:"retrieval_prefs,omitempty"`
	Debug          bool           `json:"debug,omitempty"`
}

// ConversationWindow is lightweight conversation history, if provided.
type ConversationWindow struct {
	Messages []map[string]any `json:"messages,omitempty"`
}

// ProductProfile carries product or surface profile hints.
type ProductProfile struct {
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
