package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/toolproto"
)

func TestValidateAgainstCatalogSkipsWhenAllowedSetIsEmpty(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, RelevantTools: []string{"AnythingAtAll"}}}}
	name, err := ValidateAgainstCatalog(plan, nil, rewriterCatalog())
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestValidateAgainstCatalogPassesReferencesInAllowedSet(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, RelevantTools: []string{"RunQuery"}}}}
	allowed := map[string]bool{"runquery": true}
	name, err := ValidateAgainstCatalog(plan, allowed, rewriterCatalog())
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestValidateAgainstCatalogFoldsInATieredSelectionMissRatherThanFailing(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, RelevantTools: []string{"FinalReport"}}}}
	allowed := map[string]bool{"runquery": true}
	name, err := ValidateAgainstCatalog(plan, allowed, rewriterCatalog())
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.True(t, allowed["finalreport"], "a name present in the full catalog should be folded into allowed, not rejected")
}

func TestValidateAgainstCatalogRejectsAGenuineHallucination(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, RelevantTools: []string{"GhostTool"}}}}
	allowed := map[string]bool{"runquery": true}
	name, err := ValidateAgainstCatalog(plan, allowed, rewriterCatalog())
	assert.Error(t, err)
	assert.Equal(t, "GhostTool", name)
}

func TestValidateAgainstCatalogChecksExecutablePromptReferences(t *testing.T) {
	plan := &MetaPlan{Phases: []Phase{{Phase: 1, ExecutablePrompt: "GhostPrompt"}}}
	allowed := map[string]bool{"runquery": true}

	lookup := func(name string) (toolproto.ToolDescriptor, bool) { return toolproto.ToolDescriptor{}, false }
	name, err := ValidateAgainstCatalog(plan, allowed, lookup)
	assert.Error(t, err)
	assert.Equal(t, "GhostPrompt", name)
}
