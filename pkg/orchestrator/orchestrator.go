package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aiblox/orchestrator/pkg/protocol"
)

// Orchestrator executes one plan per request: steps run sequentially in plan
// order, events flow through a single emit path with strictly increasing
// sequence numbers starting at 1, and exactly one terminal rag.done closes
// every request.
type Orchestrator struct {
	router *Router
	runner *StepRunner
	logger *slog.Logger
}

// New creates an orchestrator around the given step runner.
func New(runner *StepRunner) *Orchestrator {
	return &Orchestrator{
		router: NewRouter(),
		runner: runner,
		logger: slog.With("component", "orchestrator"),
	}
}

// HandleRequest routes the input to a plan and executes it.
func (o *Orchestrator) HandleRequest(rctx *protocol.RequestContext, input protocol.UserInput, sink protocol.EventSink) error {
	plan := o.router.Route(input, protocol.ConversationWindow{}, protocol.ProductProfile{})
	return o.Execute(rctx, input, plan, sink)
}

// Execute drives the plan against the sink. The returned error reports the
// terminal condition to the caller; the event stream is already terminated
// with rag.done by the time Execute returns.
func (o *Orchestrator) Execute(rctx *protocol.RequestContext, input protocol.UserInput, plan protocol.ExecutionPlan, sink protocol.EventSink) error {
	seq := 0
	emit := func(eventType string, payload map[string]any) error {
		seq++
		// Emission must survive request cancellation so the terminal
		// rag.done still reaches the client.
		return sink.Emit(context.Background(), protocol.NewEnvelope(eventType, rctx.RequestID, seq, payload))
	}

	if err := emit(protocol.EventTypeStarted, map[string]any{"status": protocol.StatusRunning}); err != nil {
		return err
	}

	requiredByID := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		requiredByID[step.StepID] = step.Required
	}

	state := NewStepState(input)
	for _, step := range plan.Steps {
		if rctx.Cancelled() {
			o.logger.Info("request cancelled",
				"request_id", rctx.RequestID, "plan_id", plan.PlanID, "step_id", step.StepID)
			return emit(protocol.EventTypeDone, map[string]any{"status": protocol.StatusCancelled})
		}
		if !depsSatisfied(step, state, requiredByID) {
			state.Statuses[step.StepID] = StatusSkipped
			continue
		}

		status, err := o.runner.Run(rctx, step, state, emit)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				o.logger.Info("request cancelled mid-step",
					"request_id", rctx.RequestID, "step_id", step.StepID)
				return emit(protocol.EventTypeDone, map[string]any{"status": protocol.StatusCancelled})
			}
			// Any other error escaping a step terminates the plan without a
			// step_id attribution.
			return o.failPlan(rctx, emit, err, "", err.Error())
		}

		state.Statuses[step.StepID] = status
		if status == StatusFailed && step.Required {
			return o.failPlan(rctx, emit, &RequiredStepError{StepID: step.StepID}, step.StepID, "step failed")
		}
	}

	return emit(protocol.EventTypeDone, map[string]any{"status": protocol.StatusOK})
}

// failPlan emits the rag.error + rag.done(error) pair and returns the halting
// error to the caller.
func (o *Orchestrator) failPlan(rctx *protocol.RequestContext, emit EmitFunc, halt error, stepID, message string) error {
	o.logger.Error("plan halted",
		"request_id", rctx.RequestID, "step_id", stepID, "error", message)
	payload := map[string]any{"message": message}
	if stepID != "" {
		payload["step_id"] = stepID
	}
	if err := emit(protocol.EventTypeError, payload); err != nil {
		return err
	}
	if err := emit(protocol.EventTypeDone, map[string]any{"status": protocol.StatusError}); err != nil {
		return err
	}
	return halt
}

// depsSatisfied applies the dependency rule: every dependency must have a
// recorded status, and a failed dependency blocks only when it was required.
func depsSatisfied(step protocol.PlanStep, state *StepState, requiredByID map[string]bool) bool {
	for _, dep := range step.DependsOn {
		status, ok := state.Statuses[dep]
		if !ok {
			return false
		}
		if status == StatusFailed && requiredByID[dep] {
			return false
		}
	}
	return true
}
