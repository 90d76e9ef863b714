package planning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/toolproto"
)

func rewriterCatalog() ToolLookup {
	tools := map[string]toolproto.ToolDescriptor{
		"CurrentDate": {Name: "CurrentDate"},
		"RunQuery": {Name: "RunQuery", Args: []toolproto.ArgSpec{
			{Name: "start_date", Type: "string"},
			{Name: "end_date", Type: "string"},
		}},
		"FinalReport": {Name: "FinalReport"},
		"Charting": {Name: "Charting", Args: []toolproto.ArgSpec{
			{Name: "title", Type: "string"},
			{Name: "mapping", Type: "object"},
			{Name: "data", Type: "array"},
		}},
		"ContextReport": {Name: "ContextReport"},
	}
	return func(name string) (toolproto.ToolDescriptor, bool) {
		t, ok := tools[name]
		return t, ok
	}
}

func TestRewriterInjectsTemporalPhraseIntoDependentPhase(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{
		{Phase: 1, RelevantTools: []string{"CurrentDate"}},
		{Phase: 2, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{}},
	}}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	events := rw.Rewrite(context.Background(), plan, "show me orders from last 7 days", false)

	found := false
	for _, e := range events {
		if e.Rule == "temporal_data_flow" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRewriterAppendsFinalReportWhenPlanEndsWithoutOne(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{
		{Phase: 1, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"start_date": "x", "end_date": "y"}},
	}}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	rw.Rewrite(context.Background(), plan, "fetch orders", false)

	last := plan.Phases[len(plan.Phases)-1]
	assert.True(t, last.IsReportingPhase())
}

func TestRewriterLeavesPlanEndingInReportingToolAlone(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{
		{Phase: 1, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"start_date": "x", "end_date": "y"}},
		{Phase: 2, RelevantTools: []string{"FinalReport"}},
	}}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	rw.Rewrite(context.Background(), plan, "fetch orders", false)
	require.Len(t, plan.Phases, 2)
}

func TestRewriterStripsMappingAndDataFromChartingPhase(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{
		{Phase: 1, RelevantTools: []string{"Charting"}, Arguments: map[string]interface{}{
			"mapping": map[string]interface{}{"x": "date"},
			"data":    []interface{}{1, 2, 3},
			"title":   "Orders over time",
		}},
	}}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	rw.Rewrite(context.Background(), plan, "chart my orders", false)

	args := plan.Phases[0].Arguments
	_, hasMapping := args["mapping"]
	_, hasData := args["data"]
	assert.False(t, hasMapping)
	assert.False(t, hasData)
	assert.Equal(t, "Orders over time", args["title"])
}

func TestRewriterRenumbersPhasesContiguouslyAfterInsertionsAndRemovals(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{
		{Phase: 5, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"start_date": "x", "end_date": "y"}},
	}}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	rw.Rewrite(context.Background(), plan, "fetch orders", false)

	for i, p := range plan.Phases {
		assert.Equal(t, i+1, p.Phase)
	}
}

func TestRewriterIsIdempotentOnASecondPass(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{
		{Phase: 1, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"start_date": "x", "end_date": "y"}},
	}}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	rw.Rewrite(context.Background(), plan, "fetch orders", false)
	firstLen := len(plan.Phases)
	rw.Rewrite(context.Background(), plan, "fetch orders", false)
	assert.Equal(t, firstLen, len(plan.Phases))
}

func TestRewriterSkipsFinalReportGuaranteeForSubProcessPlan(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{
		{Phase: 1, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{"start_date": "x", "end_date": "y"}},
	}}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	rw.Rewrite(context.Background(), plan, "fetch orders", true)

	last := plan.Phases[len(plan.Phases)-1]
	assert.False(t, last.IsReportingPhase())
}

func TestRewriterSkipsEverythingForConversationalPlan(t *testing.T) {
	plan := &MetaPlan{Conversational: true, Response: "hi"}
	rw := NewRewriter(rewriterCatalog(), NewValidator(rewriterCatalog()))
	events := rw.Rewrite(context.Background(), plan, "hi", false)
	assert.Empty(t, events)
}
