package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/core"
)

type fakeAIClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &core.AIResponse{Content: f.response}, nil
}

func TestResolveCatalogTextBelowThresholdSkipsSelection(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Refresh(context.Background(), sampleClient()))

	ai := &fakeAIClient{response: `["run_query"]`}
	tp := NewTieredProvider(c, ai, nil, 25)

	text, err := tp.ResolveCatalogText(context.Background(), "count rows")
	require.NoError(t, err)
	assert.Contains(t, text, "run_query")
	assert.Equal(t, 0, ai.calls, "below threshold, selection call should not happen")
}

func TestResolveCatalogTextFallsBackOnSelectionError(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Refresh(context.Background(), sampleClient()))

	ai := &fakeAIClient{err: fmt.Errorf("boom")}
	tp := NewTieredProvider(c, ai, nil, 0)
	tp.MinToolsForTiering = 0 // force tiering path even with one tool

	text, err := tp.ResolveCatalogText(context.Background(), "count rows")
	require.NoError(t, err, "selection failure falls back to the full catalog rather than erroring the turn")
	assert.Contains(t, text, "run_query")
	assert.Equal(t, 1, ai.calls)
}

func TestResolveCatalogReturnsAllowedNamesMatchingSelection(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Refresh(context.Background(), sampleClient()))

	ai := &fakeAIClient{response: `["run_query"]`}
	tp := NewTieredProvider(c, ai, nil, 0)
	tp.MinToolsForTiering = 0

	text, allowed, err := tp.ResolveCatalog(context.Background(), "count rows")
	require.NoError(t, err)
	assert.Contains(t, text, "run_query")
	assert.True(t, allowed["run_query"])
}

func TestResolveCatalogReturnsFullNameSetBelowThreshold(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Refresh(context.Background(), sampleClient()))

	ai := &fakeAIClient{response: `["run_query"]`}
	tp := NewTieredProvider(c, ai, nil, 25)

	_, allowed, err := tp.ResolveCatalog(context.Background(), "count rows")
	require.NoError(t, err)
	assert.True(t, allowed["run_query"])
	assert.Equal(t, 0, ai.calls)
}

func TestResolveCatalogTextRestrictsToSelectedNames(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Refresh(context.Background(), sampleClient()))

	ai := &fakeAIClient{response: `Here is my pick: ["run_query"]`}
	tp := NewTieredProvider(c, ai, nil, 0)
	tp.MinToolsForTiering = 0

	text, err := tp.ResolveCatalogText(context.Background(), "count rows")
	require.NoError(t, err)
	assert.Contains(t, text, "run_query")
	assert.NotContains(t, text, "summarize", "unselected prompt should not be rendered")
}
