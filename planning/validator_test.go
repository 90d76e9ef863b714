package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/toolproto"
)

func testCatalog() ToolLookup {
	tools := map[string]toolproto.ToolDescriptor{
		"RunQuery": {
			Name: "RunQuery",
			Args: []toolproto.ArgSpec{
				{Name: "table_name", Type: "string", Required: true},
				{Name: "limit", Type: "number"},
			},
		},
		"CurrentDate": {Name: "CurrentDate"},
	}
	return func(name string) (toolproto.ToolDescriptor, bool) {
		t, ok := tools[name]
		return t, ok
	}
}

func TestValidatorMovesUnknownSoleToolIntoExecutablePrompt(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, RelevantTools: []string{"SummarizeFindings"}}}}
	events := NewValidator(testCatalog()).Validate(plan)
	assert.Empty(t, plan.Phases[0].RelevantTools)
	assert.Equal(t, "SummarizeFindings", plan.Phases[0].ExecutablePrompt)
	require.Len(t, events, 1)
	assert.Equal(t, "prompt_in_relevant_tools", events[0].Rule)
}

func TestValidatorMovesKnownToolBackFromExecutablePrompt(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, ExecutablePrompt: "CurrentDate"}}}
	events := NewValidator(testCatalog()).Validate(plan)
	assert.Equal(t, []string{"CurrentDate"}, plan.Phases[0].RelevantTools)
	assert.Empty(t, plan.Phases[0].ExecutablePrompt)
	require.Len(t, events, 1)
	assert.Equal(t, "tool_in_executable_prompt", events[0].Rule)
}

func TestValidatorRemovesExtraneousArgument(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{
		Phase: 1, RelevantTools: []string{"RunQuery"},
		Arguments: map[string]interface{}{"table_name": "orders", "bogus": "x"},
	}}}
	events := NewValidator(testCatalog()).Validate(plan)
	_, present := plan.Phases[0].Arguments["bogus"]
	assert.False(t, present)
	require.NotEmpty(t, events)
}

func TestValidatorRenamesSynonymArgument(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{
		Phase: 1, RelevantTools: []string{"RunQuery"},
		Arguments: map[string]interface{}{"tablename": "orders"},
	}}}
	events := NewValidator(testCatalog()).Validate(plan)
	assert.Equal(t, "orders", plan.Phases[0].Arguments["table_name"])
	found := false
	for _, e := range events {
		if e.Rule == "fuzzy_rename" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidatorFlagsNeedsRefinementWhenRequiredArgStillMissing(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, RelevantTools: []string{"RunQuery"}, Arguments: map[string]interface{}{}}}}
	NewValidator(testCatalog()).Validate(plan)
	assert.True(t, plan.Phases[0].NeedsRefinement)
}

func TestValidatorLeavesWellFormedPhaseUntouched(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{
		Phase: 1, RelevantTools: []string{"RunQuery"},
		Arguments: map[string]interface{}{"table_name": "orders"},
	}}}
	events := NewValidator(testCatalog()).Validate(plan)
	assert.Empty(t, events)
	assert.False(t, plan.Phases[0].NeedsRefinement)
}

func TestSimilarityIsOneForIdenticalStrings(t *testing.T) {
	assert.Equal(t, 1.0, similarity("table_name", "table_name"))
}

func TestSimilarityIsHighForCloseMisspelling(t *testing.T) {
	assert.Greater(t, similarity("tbale_name", "table_name"), 0.7)
}
