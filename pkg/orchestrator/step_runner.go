package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aiblox/orchestrator/pkg/evidence"
	"github.com/aiblox/orchestrator/pkg/protocol"
	"github.com/aiblox/orchestrator/pkg/retriever"
)

// Step outcome statuses recorded in StepState.
type StepStatus string

const (
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// EmitFunc is the single event emission path handed to step handlers. The
// orchestrator owns sequence numbering behind it; handlers never manufacture
// sequence numbers themselves.
type EmitFunc func(eventType string, payload map[string]any) error

// StepState accumulates per-request results across steps. It is owned
// exclusively by one orchestration task and must not be shared across
// goroutines.
type StepState struct {
	Input        protocol.UserInput
	Bundle       *retriever.Bundle
	ToolResults  []ToolResult
	AgentResults []AgentResult
	Validation   *ValidationResult
	Statuses     map[string]StepStatus
}

// NewStepState creates the state for one request.
func NewStepState(input protocol.UserInput) *StepState {
	return &StepState{
		Input:    input,
		Statuses: make(map[string]StepStatus),
	}
}

// StepRunner dispatches one plan step to its handler.
type StepRunner struct {
	retriever Searcher
	tools     ToolRunner
	agents    AgentRunner
	validator Validator
	runtime   Runtime
	logger    *slog.Logger
}

// NewStepRunner wires the step handlers to their collaborators. Any
// collaborator may be nil; steps that need a missing one fail.
func NewStepRunner(searcher Searcher, tools ToolRunner, agents AgentRunner, validator Validator, runtime Runtime) *StepRunner {
	return &StepRunner{
		retriever: searcher,
		tools:     tools,
		agents:    agents,
		validator: validator,
		runtime:   runtime,
		logger:    slog.With("component", "step_runner"),
	}
}

// Run executes one step and returns its status. An error return bubbles to
// the orchestrator boundary; context.Canceled marks cooperative cancellation.
func (r *StepRunner) Run(rctx *protocol.RequestContext, step protocol.PlanStep, state *StepState, emit EmitFunc) (StepStatus, error) {
	switch step.Kind {
	case protocol.StepRetrieve:
		return r.runRetrieve(rctx, step, state, emit)
	case protocol.StepToolCall:
		return r.runToolCall(rctx, step, state)
	case protocol.StepAgentRun:
		return r.runAgentRun(rctx, step, state)
	case protocol.StepValidate:
		return r.runValidate(rctx, state)
	case protocol.StepSynthesize:
		return r.runSynthesize(rctx, state, emit)
	case protocol.StepEmitResults:
		if err := emit(protocol.EventTypeResults, step.Params); err != nil {
			return StatusFailed, err
		}
		return StatusCompleted, nil
	case protocol.StepFinalize:
		return StatusCompleted, nil
	default:
		r.logger.Warn("unknown step kind, skipping",
			"step_id", step.StepID, "kind", string(step.Kind))
		return StatusSkipped, nil
	}
}

func (r *StepRunner) runRetrieve(rctx *protocol.RequestContext, step protocol.PlanStep, state *StepState, emit EmitFunc) (StepStatus, error) {
	if r.retriever == nil {
		return StatusFailed, fmt.Errorf("no retriever configured")
	}
	prefs, err := materializePrefs(step.Params, state.Input)
	if err != nil {
		return StatusFailed, err
	}
	bundle, err := r.retriever.Search(rctx, prefs)
	if err != nil {
		return StatusFailed, err
	}
	state.Bundle = bundle

	packOpts := evidence.DefaultPackOptions()
	packOpts.PreferChunkSnippets = prefs.Snippet.PreferChunkSnippet
	if prefs.Snippet.MaxChars > 0 {
		packOpts.MaxSnippetChars = prefs.Snippet.MaxChars
	}
	sources := evidence.Pack(bundle.Candidates, bundle.Evidence, packOpts)
	if err := emit(protocol.EventTypeSources, map[string]any{"sources": sources}); err != nil {
		return StatusFailed, err
	}
	return StatusCompleted, nil
}

func (r *StepRunner) runToolCall(rctx *protocol.RequestContext, step protocol.PlanStep, state *StepState) (StepStatus, error) {
	if r.tools == nil {
		return StatusFailed, fmt.Errorf("no tool runner configured")
	}
	toolID, _ := step.Params["tool"].(string)
	result, err := r.tools.RunTool(rctx.Context(), toolID, step.Params)
	if err != nil {
		return StatusFailed, err
	}
	state.ToolResults = append(state.ToolResults, *result)
	if !result.Success {
		return StatusFailed, nil
	}
	return StatusCompleted, nil
}

func (r *StepRunner) runAgentRun(rctx *protocol.RequestContext, step protocol.PlanStep, state *StepState) (StepStatus, error) {
	if r.agents == nil {
		return StatusFailed, fmt.Errorf("no agent runner configured")
	}
	agentID, _ := step.Params["agent"].(string)
	result, err := r.agents.RunAgent(rctx.Context(), agentID, step.Params)
	if err != nil {
		return StatusFailed, err
	}
	state.AgentResults = append(state.AgentResults, *result)
	if !result.Success {
		return StatusFailed, nil
	}
	return StatusCompleted, nil
}

func (r *StepRunner) runValidate(rctx *protocol.RequestContext, state *StepState) (StepStatus, error) {
	if r.validator == nil {
		return StatusFailed, fmt.Errorf("no validator configured")
	}
	result, err := r.validator.Validate(rctx.Context(), state)
	if err != nil {
		return StatusFailed, err
	}
	state.Validation = result
	if !result.Success {
		return StatusFailed, nil
	}
	return StatusCompleted, nil
}

// runSynthesize drains the runtime token stream, emitting rag.token per token
// and one rag.message with the concatenation on exhaustion (omitted when the
// stream yielded nothing). Cancellation is checked between tokens.
func (r *StepRunner) runSynthesize(rctx *protocol.RequestContext, state *StepState, emit EmitFunc) (StepStatus, error) {
	if r.runtime == nil {
		return StatusFailed, fmt.Errorf("no runtime configured")
	}
	stream, err := r.runtime.StreamAnswer(rctx.Context(), state.Input)
	if err != nil {
		return StatusFailed, err
	}

	var tokens []string
	for {
		select {
		case <-rctx.Done():
			return StatusFailed, context.Canceled
		case token, ok := <-stream:
			if !ok {
				if len(tokens) > 0 {
					msg := strings.Join(tokens, "")
					if err := emit(protocol.EventTypeMessage, map[string]any{"message": msg}); err != nil {
						return StatusFailed, err
					}
				}
				return StatusCompleted, nil
			}
			if rctx.Cancelled() {
				return StatusFailed, context.Canceled
			}
			if err := emit(protocol.EventTypeToken, map[string]any{"token": token}); err != nil {
				return StatusFailed, err
			}
			tokens = append(tokens, token)
		}
	}
}

// materializePrefs builds retrieval prefs by unmarshalling the plan-supplied
// map onto the defaults, so absent fields keep their default values. The
// query text falls back to the user input text.
func materializePrefs(params map[string]any, input protocol.UserInput) (retriever.Prefs, error) {
	prefs := retriever.DefaultPrefs()
	if params != nil {
		if raw, ok := params["retrieval_prefs"]; ok && raw != nil {
			encoded, err := json.Marshal(raw)
			if err != nil {
				return prefs, fmt.Errorf("invalid retrieval_prefs: %w", err)
			}
			if err := json.Unmarshal(encoded, &prefs); err != nil {
				return prefs, fmt.Errorf("invalid retrieval_prefs: %w", err)
			}
		}
	}
	if prefs.QueryText == "" {
		prefs.QueryText = input.Text
	}
	prefs.Debug = prefs.Debug || input.Debug
	return prefs, nil
}
