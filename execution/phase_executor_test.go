package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/catalog"
	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/planning"
	"github.com/rgeissen/turnengine/toolproto"
)

func testCatalog(t *testing.T, tools ...toolproto.ToolDescriptor) *catalog.Catalog {
	t.Helper()
	fc := toolproto.NewFakeClient()
	fc.Tools = tools
	c := catalog.New(nil)
	require.NoError(t, c.Refresh(context.Background(), fc))
	return c
}

func newTestPhaseExecutor(t *testing.T, client *toolproto.FakeClient, tools ...toolproto.ToolDescriptor) *PhaseExecutor {
	t.Helper()
	c := testCatalog(t, tools...)
	fc := client
	fc.Tools = tools
	e := NewPhaseExecutor(fc, c, nil)
	return e
}

func TestExecutePhaseRunsFastPathForResolvableSingleToolPhase(t *testing.T) {
	fc := toolproto.NewFakeClient()
	fc.Responses["RunQuery"] = &toolproto.ToolResponse{Status: "success", Results: []map[string]interface{}{{"total": 42}}}
	e := newTestPhaseExecutor(t, fc, toolproto.ToolDescriptor{
		Name: "RunQuery",
		Args: []toolproto.ArgSpec{{Name: "sql", Type: "string", Required: true}},
	})

	phase := planning.Phase{Phase: 1, Goal: "count orders", RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"sql": "select count(*) from orders"}}
	state := NewWorkflowState(nil)
	history := NewActionHistory()

	outcome, err := e.ExecutePhase(context.Background(), phase, "count orders", state, history, nil)
	require.NoError(t, err)
	assert.Empty(t, outcome.FinalAnswer)
	assert.Len(t, fc.Invocations, 1)
	assert.Equal(t, "RunQuery", fc.Invocations[0].Name)

	snap := state.Snapshot()
	assert.Contains(t, snap, "result_of_phase_1")
}

func TestExecutePhaseBypassesContextReportWithPrePopulatedAnswer(t *testing.T) {
	fc := toolproto.NewFakeClient()
	e := newTestPhaseExecutor(t, fc, toolproto.ToolDescriptor{Name: "ContextReport"})

	phase := planning.Phase{Phase: 1, RelevantTools: []string{"ContextReport"}, Arguments: map[string]interface{}{"answer_from_context": "already known"}}
	state := NewWorkflowState(nil)

	outcome, err := e.ExecutePhase(context.Background(), phase, "g", state, NewActionHistory(), nil)
	require.NoError(t, err)
	assert.Equal(t, "already known", outcome.Result)
	assert.Empty(t, fc.Invocations, "ContextReport bypass should never call the tool")
}

func TestExecutePhaseMultiToolPhaseInvokesEachToolInOrder(t *testing.T) {
	fc := toolproto.NewFakeClient()
	fc.Responses["Fetch"] = &toolproto.ToolResponse{Status: "success", Results: []map[string]interface{}{{"a": 1}}}
	fc.Responses["Summarize"] = &toolproto.ToolResponse{Status: "success", Results: []map[string]interface{}{{"b": 2}}}
	e := newTestPhaseExecutor(t, fc,
		toolproto.ToolDescriptor{Name: "Fetch"},
		toolproto.ToolDescriptor{Name: "Summarize"},
	)

	phase := planning.Phase{Phase: 1, RelevantTools: []string{"Fetch", "Summarize"}, Arguments: map[string]interface{}{}}
	state := NewWorkflowState(nil)

	outcome, err := e.ExecutePhase(context.Background(), phase, "g", state, NewActionHistory(), nil)
	require.NoError(t, err)
	require.Len(t, fc.Invocations, 2)
	assert.Equal(t, "Fetch", fc.Invocations[0].Name)
	assert.Equal(t, "Summarize", fc.Invocations[1].Name)
	results, ok := outcome.Result.([]interface{})
	require.True(t, ok)
	assert.Len(t, results, 2)
}

func TestExecutePhaseLoopOverLiteralStringsInvokesOncePerItem(t *testing.T) {
	fc := toolproto.NewFakeClient()
	fc.Responses["RunQuery"] = &toolproto.ToolResponse{Status: "success", Results: []map[string]interface{}{{"ok": true}}}
	e := newTestPhaseExecutor(t, fc, toolproto.ToolDescriptor{
		Name: "RunQuery",
		Args: []toolproto.ArgSpec{{Name: "table_name", Type: "string", Required: true}},
	})

	phase := planning.Phase{
		Phase:         1,
		Type:          planning.PhaseTypeLoop,
		RelevantTools: []string{"RunQuery"},
		Arguments:     map[string]interface{}{"table_name": map[string]interface{}{"source": "loop_item"}},
		LoopOver:      []interface{}{"orders", "invoices"},
	}
	state := NewWorkflowState(nil)

	_, err := e.ExecutePhase(context.Background(), phase, "g", state, NewActionHistory(), nil)
	require.NoError(t, err)
	assert.Len(t, fc.Invocations, 2)
}

func TestExecutePhaseReturnsDefinitiveErrorWithoutRetrying(t *testing.T) {
	fc := toolproto.NewFakeClient()
	fc.Responses["RunQuery"] = &toolproto.ToolResponse{Status: "error", ErrorMessage: "permission denied for table orders"}
	e := newTestPhaseExecutor(t, fc, toolproto.ToolDescriptor{
		Name: "RunQuery",
		Args: []toolproto.ArgSpec{{Name: "sql", Type: "string", Required: true}},
	})

	phase := planning.Phase{Phase: 1, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"sql": "select 1"}}
	state := NewWorkflowState(nil)

	_, err := e.ExecutePhase(context.Background(), phase, "g", state, NewActionHistory(), nil)
	require.Error(t, err)
	execErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindDefinitiveTool, execErr.Kind)
	assert.Len(t, fc.Invocations, 1, "a definitive error must not trigger a retry")
}

func TestExecutePhaseRecoverableErrorExhaustsRetriesThenFails(t *testing.T) {
	fc := toolproto.NewFakeClient()
	fc.Responses["RunQuery"] = &toolproto.ToolResponse{Status: "error", ErrorMessage: "connection reset"}
	e := newTestPhaseExecutor(t, fc, toolproto.ToolDescriptor{
		Name: "RunQuery",
		Args: []toolproto.ArgSpec{{Name: "sql", Type: "string", Required: true}},
	})

	phase := planning.Phase{Phase: 1, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"sql": "select 1"}}
	state := NewWorkflowState(nil)

	_, err := e.ExecutePhase(context.Background(), phase, "g", state, NewActionHistory(), nil)
	require.Error(t, err)
	execErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindRecoverableTool, execErr.Kind)
	assert.Equal(t, e.MaxToolAttempts, len(fc.Invocations))
}

func TestExecutePhaseMissingRequiredArgumentFallsBackToTacticalStep(t *testing.T) {
	fc := toolproto.NewFakeClient()
	fc.Responses["RunQuery"] = &toolproto.ToolResponse{Status: "success", Results: []map[string]interface{}{{"total": 1}}}
	aiClient := &fakeCorrectionAIClient{response: `{"tool_name":"RunQuery","arguments":{"sql":"select 1"}}`}
	tool := toolproto.ToolDescriptor{Name: "RunQuery", Args: []toolproto.ArgSpec{{Name: "sql", Type: "string", Required: true}}}
	c := testCatalog(t, tool)
	fc.Tools = []toolproto.ToolDescriptor{tool}
	e := NewPhaseExecutor(fc, c, aiClient)

	phase := planning.Phase{Phase: 1, Goal: "count orders", RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{}}
	state := NewWorkflowState(nil)

	outcome, err := e.ExecutePhase(context.Background(), phase, "count orders", state, NewActionHistory(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcome.FinalAnswer)
	assert.Equal(t, core.PhaseTactical, aiClient.lastOpts.Phase)
}

func TestPreflightPassRejectsMissingOrEmptyRequiredArgs(t *testing.T) {
	tool := toolproto.ToolDescriptor{Args: []toolproto.ArgSpec{{Name: "sql", Type: "string", Required: true}}}

	assert.False(t, preflightPass(tool, map[string]interface{}{}))
	assert.False(t, preflightPass(tool, map[string]interface{}{"sql": ""}))
	assert.True(t, preflightPass(tool, map[string]interface{}{"sql": "select 1"}))
}

func TestPreflightPassRejectsTemporalPhraseAndPlaceholderDict(t *testing.T) {
	tool := toolproto.ToolDescriptor{Args: []toolproto.ArgSpec{{Name: "date", Type: "string", Required: true}}}

	assert.False(t, preflightPass(tool, map[string]interface{}{"date": "last 7 days"}))
	assert.False(t, preflightPass(tool, map[string]interface{}{"date": map[string]interface{}{"from_phase": 1}}))
	assert.True(t, preflightPass(tool, map[string]interface{}{"date": "2026-07-30"}))
}
