package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiblox/orchestrator/pkg/protocol"
	"github.com/aiblox/orchestrator/pkg/retriever"
)

// ─── Test fixtures ───────────────────────────────────────────────────────────

type memorySink struct {
	mu     sync.Mutex
	events []*protocol.Envelope
}

func (s *memorySink) Emit(_ context.Context, event *protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) all() []*protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.Envelope(nil), s.events...)
}

func (s *memorySink) types() []string {
	out := []string{}
	for _, e := range s.all() {
		out = append(out, e.Type)
	}
	return out
}

type stubSearcher struct {
	bundle *retriever.Bundle
	err    error
}

func (s *stubSearcher) Search(_ *protocol.RequestContext, _ retriever.Prefs) (*retriever.Bundle, error) {
	return s.bundle, s.err
}

type failingValidator struct{}

func (failingValidator) Validate(_ context.Context, _ *StepState) (*ValidationResult, error) {
	return &ValidationResult{Success: false, Details: map[string]any{"reason": "bad state"}}, nil
}

type failingToolRunner struct{}

func (failingToolRunner) RunTool(_ context.Context, toolID string, _ map[string]any) (*ToolResult, error) {
	return &ToolResult{ToolID: toolID, Success: false, Error: "tool unavailable"}, nil
}

func newTestOrchestrator(searcher Searcher, tools ToolRunner, validator Validator, runtime Runtime) *Orchestrator {
	if tools == nil {
		tools = NoopToolRunner{}
	}
	if validator == nil {
		validator = AcceptAllValidator{}
	}
	if runtime == nil {
		runtime = &EchoRuntime{}
	}
	return New(NewStepRunner(searcher, tools, NoopAgentRunner{}, validator, runtime))
}

func assertEventInvariants(t *testing.T, events []*protocol.Envelope) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, protocol.EventTypeStarted, events[0].Type, "rag.started must be first")
	assert.Equal(t, protocol.EventTypeDone, events[len(events)-1].Type, "rag.done must be last")
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq, "seq must be 1,2,3,… in emission order")
		assert.Equal(t, protocol.ProtocolVersion, e.ProtocolVersion)
		if i < len(events)-1 {
			assert.NotEqual(t, protocol.EventTypeDone, e.Type, "no events may follow rag.done")
		}
	}
}

// ─── Scenarios ───────────────────────────────────────────────────────────────

func TestExecute_ChatOnly(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-chat")
	defer rctx.Cancel()

	input := protocol.UserInput{Text: "hello world", Mode: protocol.ModeChat}
	require.NoError(t, o.HandleRequest(rctx, input, sink))

	events := sink.all()
	assertEventInvariants(t, events)

	var message string
	for _, e := range events {
		if e.Type == protocol.EventTypeMessage {
			message = e.Payload["message"].(string)
		}
	}
	assert.Equal(t, "hello world ", message, "message is the token concatenation, trailing space included")
	assert.Equal(t, protocol.StatusOK, events[len(events)-1].Payload["status"])
}

func TestExecute_RAGHappyPath(t *testing.T) {
	bundle := &retriever.Bundle{
		Candidates: []retriever.CandidateItem{{
			ItemID:  "doc1",
			Kind:    "doc",
			Title:   "Doc One",
			Summary: "first doc",
			Score:   0.9,
		}},
	}
	o := newTestOrchestrator(&stubSearcher{bundle: bundle}, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-rag")
	defer rctx.Cancel()

	input := protocol.UserInput{Text: "what is doc one", Mode: protocol.ModeRAG}
	require.NoError(t, o.HandleRequest(rctx, input, sink))

	events := sink.all()
	assertEventInvariants(t, events)

	types := sink.types()
	assert.Contains(t, types, protocol.EventTypeSources)
	assert.Contains(t, types, protocol.EventTypeToken)
	assert.Contains(t, types, protocol.EventTypeMessage)
	assert.Equal(t, protocol.StatusOK, events[len(events)-1].Payload["status"])
}

func TestExecute_MidStreamCancel(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, &EchoRuntime{TokenDelay: 10 * time.Millisecond})
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-cancel")

	go func() {
		time.Sleep(20 * time.Millisecond)
		rctx.Cancel()
	}()

	input := protocol.UserInput{Text: "a b c d e f g h i j", Mode: protocol.ModeChat}
	require.NoError(t, o.HandleRequest(rctx, input, sink))

	events := sink.all()
	assertEventInvariants(t, events)
	assert.Equal(t, protocol.StatusCancelled, events[len(events)-1].Payload["status"])
	assert.NotContains(t, sink.types(), protocol.EventTypeError, "cancellation never produces rag.error")
	assert.NotContains(t, sink.types(), protocol.EventTypeMessage, "cancelled stream must not emit the final message")
}

func TestExecute_OptionalFailureTolerated(t *testing.T) {
	o := newTestOrchestrator(&stubSearcher{bundle: &retriever.Bundle{}}, failingToolRunner{}, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-hybrid")
	defer rctx.Cancel()

	input := protocol.UserInput{Text: "hello", Mode: protocol.ModeHybrid}
	require.NoError(t, o.HandleRequest(rctx, input, sink))

	events := sink.all()
	assertEventInvariants(t, events)
	assert.Equal(t, protocol.StatusOK, events[len(events)-1].Payload["status"])
	assert.Contains(t, sink.types(), protocol.EventTypeMessage, "synthesis still runs after optional tool failure")
	assert.NotContains(t, sink.types(), protocol.EventTypeError)
}

func TestExecute_RequiredFailure(t *testing.T) {
	o := newTestOrchestrator(nil, nil, failingValidator{}, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-validate")
	defer rctx.Cancel()

	plan := protocol.ExecutionPlan{
		PlanID: "plan-1",
		Steps: []protocol.PlanStep{
			{StepID: "validate", Kind: protocol.StepValidate, Required: true},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true, DependsOn: []string{"validate"}},
		},
	}
	err := o.Execute(rctx, protocol.UserInput{Text: "hello"}, plan, sink)

	var reqErr *RequiredStepError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "validate", reqErr.StepID)

	events := sink.all()
	assertEventInvariants(t, events)
	require.GreaterOrEqual(t, len(events), 3)

	errorEvent := events[len(events)-2]
	assert.Equal(t, protocol.EventTypeError, errorEvent.Type, "rag.error immediately precedes rag.done")
	assert.Equal(t, "validate", errorEvent.Payload["step_id"])
	assert.Equal(t, protocol.StatusError, events[len(events)-1].Payload["status"])
	assert.NotContains(t, sink.types(), protocol.EventTypeToken, "synthesis must not run after a required failure")
}

func TestExecute_UnexpectedErrorFromStep(t *testing.T) {
	o := newTestOrchestrator(&stubSearcher{err: errors.New("backend down")}, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-boom")
	defer rctx.Cancel()

	input := protocol.UserInput{Text: "hello", Mode: protocol.ModeRAG}
	err := o.HandleRequest(rctx, input, sink)
	require.Error(t, err)

	events := sink.all()
	assertEventInvariants(t, events)

	errorEvent := events[len(events)-2]
	assert.Equal(t, protocol.EventTypeError, errorEvent.Type)
	assert.NotContains(t, errorEvent.Payload, "step_id", "unexpected errors carry no step attribution")
	assert.Equal(t, protocol.StatusError, events[len(events)-1].Payload["status"])
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-precancel")
	rctx.Cancel()

	input := protocol.UserInput{Text: "hello", Mode: protocol.ModeChat}
	require.NoError(t, o.HandleRequest(rctx, input, sink))

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventTypeStarted, events[0].Type)
	assert.Equal(t, protocol.EventTypeDone, events[1].Type)
	assert.Equal(t, protocol.StatusCancelled, events[1].Payload["status"])
}

// ─── Dependency rule ─────────────────────────────────────────────────────────

func TestExecute_MissingDependencyStatusBlocks(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-deps")
	defer rctx.Cancel()

	// finalize depends on a step that never appears, so it skips; the plan
	// still completes.
	plan := protocol.ExecutionPlan{
		PlanID: "plan-2",
		Steps: []protocol.PlanStep{
			{StepID: "finalize", Kind: protocol.StepFinalize, Required: false, DependsOn: []string{"phantom"}},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true},
		},
	}
	require.NoError(t, o.Execute(rctx, protocol.UserInput{Text: "hi"}, plan, sink))

	events := sink.all()
	assertEventInvariants(t, events)
	assert.Equal(t, protocol.StatusOK, events[len(events)-1].Payload["status"])
}

func TestExecute_OptionalFailedDependencyDoesNotBlock(t *testing.T) {
	o := newTestOrchestrator(nil, failingToolRunner{}, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-optdep")
	defer rctx.Cancel()

	plan := protocol.ExecutionPlan{
		PlanID: "plan-3",
		Steps: []protocol.PlanStep{
			{StepID: "tool_call", Kind: protocol.StepToolCall, Required: false},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true, DependsOn: []string{"tool_call"}},
		},
	}
	require.NoError(t, o.Execute(rctx, protocol.UserInput{Text: "hi"}, plan, sink))
	assert.Contains(t, sink.types(), protocol.EventTypeMessage)
}

func TestExecute_RequiredFailedDependencySkipsDependent(t *testing.T) {
	o := newTestOrchestrator(nil, failingToolRunner{}, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-reqdep")
	defer rctx.Cancel()

	// Required tool failure halts the plan before the dependent step.
	plan := protocol.ExecutionPlan{
		PlanID: "plan-4",
		Steps: []protocol.PlanStep{
			{StepID: "tool_call", Kind: protocol.StepToolCall, Required: true},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true, DependsOn: []string{"tool_call"}},
		},
	}
	err := o.Execute(rctx, protocol.UserInput{Text: "hi"}, plan, sink)
	var reqErr *RequiredStepError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "tool_call", reqErr.StepID)
	assert.NotContains(t, sink.types(), protocol.EventTypeToken)
}

func TestExecute_UnknownStepKindSkipped(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-unknown")
	defer rctx.Cancel()

	plan := protocol.ExecutionPlan{
		PlanID: "plan-5",
		Steps: []protocol.PlanStep{
			{StepID: "mystery", Kind: protocol.StepKind("teleport"), Required: true},
			{StepID: "synthesize", Kind: protocol.StepSynthesize, Required: true},
		},
	}
	require.NoError(t, o.Execute(rctx, protocol.UserInput{Text: "hi"}, plan, sink))
	assert.Equal(t, protocol.StatusOK, sink.all()[len(sink.all())-1].Payload["status"])
}

// ─── Steps ───────────────────────────────────────────────────────────────────

func TestExecute_EmitResultsStep(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-results")
	defer rctx.Cancel()

	plan := protocol.ExecutionPlan{
		PlanID: "plan-6",
		Steps: []protocol.PlanStep{
			{StepID: "emit", Kind: protocol.StepEmitResults, Required: true, Params: map[string]any{"answer": 42}},
		},
	}
	require.NoError(t, o.Execute(rctx, protocol.UserInput{}, plan, sink))

	var found bool
	for _, e := range sink.all() {
		if e.Type == protocol.EventTypeResults {
			found = true
			assert.Equal(t, 42, e.Payload["answer"])
		}
	}
	assert.True(t, found)
}

func TestExecute_EmptyTokenStreamOmitsMessage(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, nil)
	sink := &memorySink{}
	rctx := protocol.NewRequestContext(context.Background(), "req-silent")
	defer rctx.Cancel()

	input := protocol.UserInput{Text: "", Mode: protocol.ModeChat}
	require.NoError(t, o.HandleRequest(rctx, input, sink))

	assert.NotContains(t, sink.types(), protocol.EventTypeMessage)
	assert.NotContains(t, sink.types(), protocol.EventTypeToken)
	assert.Equal(t, protocol.StatusOK, sink.all()[len(sink.all())-1].Payload["status"])
}

func TestMaterializePrefs_DefaultsAndOverrides(t *testing.T) {
	params := map[string]any{
		"retrieval_prefs": map[string]any{
			"top_k_items": 5,
			"fts":         map[string]any{"mode": "plain"},
		},
	}
	prefs, err := materializePrefs(params, protocol.UserInput{Text: "fallback query"})
	require.NoError(t, err)

	assert.Equal(t, 5, prefs.TopKItems)
	assert.Equal(t, retriever.FTSModePlain, prefs.FTS.Mode)
	// Untouched fields keep their defaults.
	assert.Equal(t, 12, prefs.TopKChunks)
	assert.Equal(t, retriever.RankFuncTSRankCD, prefs.FTS.RankFunc)
	assert.Equal(t, "fallback query", prefs.QueryText)
}

func TestRouter_Modes(t *testing.T) {
	r := NewRouter()

	tests := []struct {
		mode  string
		kinds []protocol.StepKind
	}{
		{protocol.ModeChat, []protocol.StepKind{protocol.StepSynthesize}},
		{"", []protocol.StepKind{protocol.StepSynthesize}},
		{"nonsense", []protocol.StepKind{protocol.StepSynthesize}},
		{protocol.ModeRAG, []protocol.StepKind{protocol.StepRetrieve, protocol.StepSynthesize}},
		{protocol.ModeTool, []protocol.StepKind{protocol.StepToolCall, protocol.StepSynthesize}},
		{protocol.ModeHybrid, []protocol.StepKind{protocol.StepRetrieve, protocol.StepToolCall, protocol.StepSynthesize}},
	}
	for _, tt := range tests {
		plan := r.Route(protocol.UserInput{Mode: tt.mode}, protocol.ConversationWindow{}, protocol.ProductProfile{})
		require.Len(t, plan.Steps, len(tt.kinds), "mode %q", tt.mode)
		for i, kind := range tt.kinds {
			assert.Equal(t, kind, plan.Steps[i].Kind)
		}
		assert.NotEmpty(t, plan.PlanID)
	}

	// Plan ids are fresh per call.
	p1 := r.Route(protocol.UserInput{Mode: protocol.ModeChat}, protocol.ConversationWindow{}, protocol.ProductProfile{})
	p2 := r.Route(protocol.UserInput{Mode: protocol.ModeChat}, protocol.ConversationWindow{}, protocol.ProductProfile{})
	assert.NotEqual(t, p1.PlanID, p2.PlanID)
}

func TestRouter_HybridRequiredness(t *testing.T) {
	r := NewRouter()
	plan := r.Route(protocol.UserInput{Mode: protocol.ModeHybrid}, protocol.ConversationWindow{}, protocol.ProductProfile{})

	require.Len(t, plan.Steps, 3)
	assert.False(t, plan.Steps[0].Required)
	assert.False(t, plan.Steps[1].Required)
	assert.True(t, plan.Steps[2].Required)
	assert.Equal(t, []string{"retrieve", "tool_call"}, plan.Steps[2].DependsOn)
}

func TestRouter_ToolIDFromMetadata(t *testing.T) {
	r := NewRouter()

	with := r.Route(protocol.UserInput{Mode: protocol.ModeTool, Metadata: map[string]any{"tool": "calculator"}}, protocol.ConversationWindow{}, protocol.ProductProfile{})
	assert.Equal(t, "calculator", with.Steps[0].Params["tool"])

	without := r.Route(protocol.UserInput{Mode: protocol.ModeTool}, protocol.ConversationWindow{}, protocol.ProductProfile{})
	assert.Nil(t, without.Steps[0].Params["tool"])
}

func TestRequiredStepError_Message(t *testing.T) {
	err := &RequiredStepError{StepID: "validate"}
	assert.Contains(t, err.Error(), "validate")

	wrapped := &RequiredStepError{StepID: "tool_call", Err: fmt.Errorf("boom")}
	assert.Contains(t, wrapped.Error(), "boom")
	assert.ErrorIs(t, wrapped, wrapped.Err)
}
