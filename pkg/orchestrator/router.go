package orchestrator

import (
	"github.com/google/uuid"

	"github.com/aiblox/orchestrator/pkg/protocol"
)

// Router maps one user input to an execution plan. Routing is pure and
// deterministic apart from the fresh plan id.
type Router struct{}

// NewRouter creates a decision router.
func NewRouter() *Router { return &Router{} }

// Route builds the plan for the input's mode. Unknown modes fall back to a
// single synthesize step.
func (r *Router) Route(input protocol.UserInput, conv protocol.ConversationWindow, profile protocol.ProductProfile) protocol.ExecutionPlan {
	plan := protocol.ExecutionPlan{PlanID: uuid.NewString()}

	switch input.Mode {
	case protocol.ModeRAG:
		plan.Steps = []protocol.PlanStep{
			{StepID: "retrieve", Kind: protocol.StepRetrieve, Required: true, Params: retrieveParams(input)},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true, DependsOn: []string{"retrieve"}},
		}
	case protocol.ModeTool:
		plan.Steps = []protocol.PlanStep{
			{StepID: "tool_call", Kind: protocol.StepToolCall, Required: true, Params: toolParams(input)},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true, DependsOn: []string{"tool_call"}},
		}
	case protocol.ModeHybrid:
		// Retrieval and tool use are best-effort enrichments here; only
		// synthesis is mandatory.
		plan.Steps = []protocol.PlanStep{
			{StepID: "retrieve", Kind: protocol.StepRetrieve, Required: false, Params: retrieveParams(input)},
			{StepID: "tool_call", Kind: protocol.StepToolCall, Required: false, DependsOn: []string{"retrieve"}, Params: toolParams(input)},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true, DependsOn: []string{"retrieve", "tool_call"}},
		}
	default: // chat and unknown modes
		plan.Steps = []protocol.PlanStep{
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true},
		}
	}
	return plan
}

func retrieveParams(input protocol.UserInput) map[string]any {
	if len(input.RetrievalPrefs) > 0 {
		return map[string]any{"retrieval_prefs": input.RetrievalPrefs}
	}
	return nil
}

// toolParams propagates the requested tool id from input metadata; absence is
// permitted and propagates as nil.
func toolParams(input protocol.UserInput) map[string]any {
	var tool any
	if input.Metadata != nil {
		tool = input.Metadata["tool"]
	}
	return map[string]any{"tool": tool}
}
