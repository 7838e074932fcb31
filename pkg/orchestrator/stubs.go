package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/aiblox/orchestrator/pkg/protocol"
)

// EchoRuntime is a development runtime that streams the input text back one
// whitespace token at a time, each with a trailing space. TokenDelay inserts
// a pause before each token so streaming and cancellation paths are
// exercisable without a real model.
type EchoRuntime struct {
	TokenDelay time.Duration
}

// StreamAnswer implements Runtime.
func (r *EchoRuntime) StreamAnswer(ctx context.Context, input protocol.UserInput) (<-chan string, error) {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, word := range strings.Fields(input.Text) {
			if r.TokenDelay > 0 {
				select {
				case <-time.After(r.TokenDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- word + " ":
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// NoopToolRunner reports success without doing anything. Placeholder until a
// real tool back-end is wired.
type NoopToolRunner struct{}

// RunTool implements ToolRunner.
func (NoopToolRunner) RunTool(_ context.Context, toolID string, params map[string]any) (*ToolResult, error) {
	return &ToolResult{ToolID: toolID, Success: true, Output: map[string]any{"params": params}}, nil
}

// NoopAgentRunner reports success without delegating anywhere.
type NoopAgentRunner struct{}

// RunAgent implements AgentRunner.
func (NoopAgentRunner) RunAgent(_ context.Context, agentID string, params map[string]any) (*AgentResult, error) {
	return &AgentResult{AgentID: agentID, Success: true, Output: map[string]any{"params": params}}, nil
}

// AcceptAllValidator approves every state.
type AcceptAllValidator struct{}

// Validate implements Validator.
func (AcceptAllValidator) Validate(_ context.Context, _ *StepState) (*ValidationResult, error) {
	return &ValidationResult{Success: true}, nil
}
