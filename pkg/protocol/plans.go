package protocol

// StepKind identifies what a plan step does.
type StepKind string

// Plan step kinds.
const (
	StepRetrieve    StepKind = "retrieve"
	StepToolCall    StepKind = "tool_call"
	StepAgentRun    StepKind = "agent_run"
	StepValidate    StepKind = "validate"
	StepSynthesize  StepKind = "synthesize"
	StepEmitResults StepKind = "emit_results"
	StepFinalize    StepKind = "finalize"
)

// PlanStep is a single execution step in a plan.
//
// Invariants (guaranteed by the router, assumed by the orchestrator):
// step ids are unique within a plan, every id in DependsOn belongs to an
// earlier step, and there are no cycles.
type PlanStep struct {
	StepID    string         `json:"step_id"`
	Kind      StepKind       `json:"kind"`
	Required  bool           `json:"required"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// ExecutionPlan is the ordered set of steps to execute for a request.
type ExecutionPlan struct {
	PlanID string     `json:"plan_id"`
	Steps  []PlanStep `json:"steps"`
}
