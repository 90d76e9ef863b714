package planning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/toolproto"
)

type fakePlannerAIClient struct {
	response string
	lastOpts *core.AIOptions
}

func (f *fakePlannerAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	f.lastOpts = options
	return &core.AIResponse{Content: f.response}, nil
}

func plannerCatalogLookup() ToolLookup {
	tools := map[string]toolproto.ToolDescriptor{
		"RunQuery":    {Name: "RunQuery", Args: []toolproto.ArgSpec{{Name: "sql", Type: "string", Required: true}}},
		"FinalReport": {Name: "FinalReport"},
	}
	return func(name string) (toolproto.ToolDescriptor, bool) {
		t, ok := tools[name]
		return t, ok
	}
}

type queuedPlannerAIClient struct {
	responses []string
	calls     int
}

func (f *queuedPlannerAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &core.AIResponse{Content: f.responses[idx]}, nil
}

type fakeCatalogProvider struct {
	text    string
	allowed map[string]bool
}

func (f *fakeCatalogProvider) ResolveCatalog(ctx context.Context, goal string) (string, map[string]bool, error) {
	return f.text, f.allowed, nil
}

func newTestPlanner(ai core.AIClient, client toolproto.Client) *Planner {
	lookup := plannerCatalogLookup()
	validator := NewValidator(lookup)
	rewriter := NewRewriter(lookup, validator)
	return NewPlanner(client, ai, NewNormalizer(), rewriter, validator)
}

func TestPlannerUsesUserQueryAsGoalWhenNoActivePrompt(t *testing.T) {
	ai := &fakePlannerAIClient{response: `[{"phase":1,"goal":"run it","relevant_tools":["RunQuery"],"arguments":{"sql":"select 1"}}]`}
	client := toolproto.NewFakeClient()
	p := newTestPlanner(ai, client)

	result, err := p.Plan(context.Background(), Request{UserQuery: "run a query"})
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Equal(t, core.PhaseStrategic, ai.lastOpts.Phase)
}

func TestPlannerLoadsActivePromptBodyAsGoal(t *testing.T) {
	ai := &fakePlannerAIClient{response: `[{"phase":1,"goal":"g","relevant_tools":["RunQuery"],"arguments":{"sql":"select 1"}}]`}
	client := toolproto.NewFakeClient()
	client.PromptBodies["DailySummary"] = "Summarise yesterday's orders"
	p := newTestPlanner(ai, client)

	_, err := p.Plan(context.Background(), Request{ActivePromptName: "DailySummary"})
	require.NoError(t, err)
}

func TestPlannerReturnsConversationalResultWithoutRunningPipeline(t *testing.T) {
	ai := &fakePlannerAIClient{response: `{"plan_type": "conversational", "response": "Hi! How can I help?"}`}
	client := toolproto.NewFakeClient()
	p := newTestPlanner(ai, client)

	result, err := p.Plan(context.Background(), Request{UserQuery: "hello"})
	require.NoError(t, err)
	assert.True(t, result.Plan.Conversational)
	assert.Equal(t, "Hi! How can I help?", result.Plan.Response)
}

func TestPlannerAppendsFinalReportViaRewritePipeline(t *testing.T) {
	ai := &fakePlannerAIClient{response: `[{"phase":1,"goal":"run it","relevant_tools":["RunQuery"],"arguments":{"sql":"select 1"}}]`}
	client := toolproto.NewFakeClient()
	p := newTestPlanner(ai, client)

	result, err := p.Plan(context.Background(), Request{UserQuery: "run a query"})
	require.NoError(t, err)
	last := result.Plan.Phases[len(result.Plan.Phases)-1]
	assert.True(t, last.IsReportingPhase())
}

func TestPlannerReturnsErrorWhenLMResponseHasNoJSON(t *testing.T) {
	ai := &fakePlannerAIClient{response: "I'm not sure what to do."}
	client := toolproto.NewFakeClient()
	p := newTestPlanner(ai, client)

	_, err := p.Plan(context.Background(), Request{UserQuery: "run a query"})
	assert.Error(t, err)
}

func TestPlannerReplansOnceWhenPlanReferencesToolAbsentFromCatalog(t *testing.T) {
	ai := &queuedPlannerAIClient{responses: []string{
		`[{"phase":1,"goal":"g","relevant_tools":["GhostTool"]}]`,
		`[{"phase":1,"goal":"run it","relevant_tools":["RunQuery"],"arguments":{"sql":"select 1"}}]`,
	}}
	client := toolproto.NewFakeClient()
	p := newTestPlanner(ai, client)
	p.Catalog = &fakeCatalogProvider{text: "Available tools:\n- RunQuery\n", allowed: map[string]bool{"runquery": true}}

	result, err := p.Plan(context.Background(), Request{UserQuery: "run a query"})
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 2, ai.calls)
	assert.Equal(t, []string{"RunQuery"}, result.Plan.Phases[0].RelevantTools)
}

func TestPlannerAcceptsPlanAfterExhaustingHallucinationRetries(t *testing.T) {
	ai := &queuedPlannerAIClient{responses: []string{
		`[{"phase":1,"goal":"g","relevant_tools":["GhostTool"]}]`,
		`[{"phase":1,"goal":"g","relevant_tools":["GhostTool"]}]`,
	}}
	client := toolproto.NewFakeClient()
	p := newTestPlanner(ai, client)
	p.Catalog = &fakeCatalogProvider{text: "Available tools:\n- RunQuery\n", allowed: map[string]bool{"runquery": true}}

	result, err := p.Plan(context.Background(), Request{UserQuery: "run a query"})
	require.NoError(t, err)
	assert.Equal(t, 2, ai.calls)
	assert.Equal(t, []string{"GhostTool"}, result.Plan.Phases[0].RelevantTools)
}

func TestPlannerPreservesRawPlanBeforeRewrite(t *testing.T) {
	ai := &fakePlannerAIClient{response: `[{"phase":1,"goal":"run it","relevant_tools":["RunQuery"],"arguments":{"sql":"select 1"}}]`}
	client := toolproto.NewFakeClient()
	p := newTestPlanner(ai, client)

	result, err := p.Plan(context.Background(), Request{UserQuery: "run a query"})
	require.NoError(t, err)
	assert.Len(t, result.RawPlan.Phases, 1)
	assert.Greater(t, len(result.Plan.Phases), len(result.RawPlan.Phases))
}
