package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanHandlesPhaseListInsideCodeFence(t *testing.T) {
	resp := "Here is the plan:\n```json\n[{\"phase\":1,\"goal\":\"fetch\",\"relevant_tools\":[\"RunQuery\"],\"arguments\":{\"sql\":\"select 1\"}}]\n```"
	plan, raw, err := ParsePlan(resp)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, "fetch", plan.Phases[0].Goal)
	assert.Contains(t, string(raw), "RunQuery")
}

func TestParsePlanHandlesConversationalResponse(t *testing.T) {
	resp := `{"plan_type": "conversational", "response": "Hello there"}`
	plan, _, err := ParsePlan(resp)
	require.NoError(t, err)
	assert.True(t, plan.Conversational)
	assert.Equal(t, "Hello there", plan.Response)
}

func TestParsePlanHandlesSingleActionObject(t *testing.T) {
	resp := `{"goal": "single step", "relevant_tools": ["CurrentDate"], "arguments": {}}`
	plan, _, err := ParsePlan(resp)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, 1, plan.Phases[0].Phase)
	assert.Equal(t, "single step", plan.Phases[0].Goal)
}

func TestParsePlanRejectsResponseWithNoJSON(t *testing.T) {
	_, _, err := ParsePlan("I could not come up with a plan.")
	assert.Error(t, err)
}

func TestParsePlanStripsBoldMarkdownFromStringValues(t *testing.T) {
	resp := `[{"phase":1,"goal":"**fetch** rows","relevant_tools":["RunQuery"],"arguments":{}}]`
	plan, _, err := ParsePlan(resp)
	require.NoError(t, err)
	assert.Equal(t, "fetch rows", plan.Phases[0].Goal)
}
