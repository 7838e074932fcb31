// Package orchestrator drives one request through a routed execution plan:
// sequential dependency-ordered steps with required/optional semantics,
// mid-stream cancellation, and strictly-ordered event emission.
package orchestrator

import (
	"context"

	"github.com/aiblox/orchestrator/pkg/protocol"
	"github.com/aiblox/orchestrator/pkg/retriever"
)

// Searcher is the retrieval capability consumed by the retrieve step.
type Searcher interface {
	Search(rctx *protocol.RequestContext, prefs retriever.Prefs) (*retriever.Bundle, error)
}

// Runtime produces the answer token stream for synthesis. The returned
// channel is closed on exhaustion; cancellation of ctx must unblock both
// producer and consumer.
type Runtime interface {
	StreamAnswer(ctx context.Context, input protocol.UserInput) (<-chan string, error)
}

// ToolResult is the outcome of one tool invocation. Success=false models a
// tool-level failure without an error; transport/protocol errors are returned
// separately.
type ToolResult struct {
	ToolID  string         `json:"tool_id,omitempty"`
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolRunner executes one named tool with plan-supplied parameters.
type ToolRunner interface {
	RunTool(ctx context.Context, toolID string, params map[string]any) (*ToolResult, error)
}

// AgentResult is the outcome of one delegated agent run.
type AgentResult struct {
	AgentID string         `json:"agent_id,omitempty"`
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// AgentRunner delegates a sub-task to an agent back-end.
type AgentRunner interface {
	RunAgent(ctx context.Context, agentID string, params map[string]any) (*AgentResult, error)
}

// ValidationResult is the outcome of a validation step.
type ValidationResult struct {
	Success bool           `json:"success"`
	Details map[string]any `json:"details,omitempty"`
}

// Validator checks the accumulated step state before synthesis or emission.
type Validator interface {
	Validate(ctx context.Context, state *StepState) (*ValidationResult, error)
}
