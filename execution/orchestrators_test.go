package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/planning"
	"github.com/rgeissen/turnengine/toolproto"
)

func TestColumnIterationOrchestratorAppliesToColumnScopedToolWithoutColumnName(t *testing.T) {
	o := NewColumnIterationOrchestrator(nil, nil)
	tool := toolproto.ToolDescriptor{Name: "SumColumn", Scope: toolproto.ScopeColumn}

	assert.True(t, o.AppliesTo(tool, map[string]interface{}{"table_name": "orders"}))
	assert.False(t, o.AppliesTo(tool, map[string]interface{}{"column_name": "total"}))

	plain := toolproto.ToolDescriptor{Name: "RunQuery", Scope: toolproto.ScopeNone}
	assert.False(t, o.AppliesTo(plain, map[string]interface{}{}))
}

func TestColumnIterationOrchestratorExpandFiltersByRequiredDataType(t *testing.T) {
	describe := func(ctx context.Context, table string) ([]ColumnDescription, error) {
		return []ColumnDescription{
			{Name: "total", DataType: "numeric"},
			{Name: "customer_name", DataType: "character"},
		}, nil
	}
	o := NewColumnIterationOrchestrator(describe, nil)
	tool := toolproto.ToolDescriptor{Name: "SumColumn", Scope: toolproto.ScopeColumn, RequiredDataType: "numeric"}

	items, err := o.Expand(context.Background(), tool, []string{"orders"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, Item{Table: "orders", Column: "total"}, items[0])
}

func TestColumnIterationOrchestratorExpandCachesClassificationPerTool(t *testing.T) {
	describe := func(ctx context.Context, table string) ([]ColumnDescription, error) {
		return []ColumnDescription{{Name: "total", DataType: "numeric"}}, nil
	}
	calls := 0
	classify := func(ctx context.Context, tool toolproto.ToolDescriptor) (string, error) {
		calls++
		return "numeric", nil
	}
	o := NewColumnIterationOrchestrator(describe, classify)
	tool := toolproto.ToolDescriptor{Name: "SumColumn", Scope: toolproto.ScopeColumn}

	_, err := o.Expand(context.Background(), tool, []string{"orders"})
	require.NoError(t, err)
	_, err = o.Expand(context.Background(), tool, []string{"invoices"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestColumnIterationOrchestratorExpandWithAnyTypeIncludesEveryColumn(t *testing.T) {
	describe := func(ctx context.Context, table string) ([]ColumnDescription, error) {
		return []ColumnDescription{
			{Name: "total", DataType: "numeric"},
			{Name: "customer_name", DataType: "character"},
		}, nil
	}
	o := NewColumnIterationOrchestrator(describe, nil)
	tool := toolproto.ToolDescriptor{Name: "ListColumn", Scope: toolproto.ScopeColumn, RequiredDataType: "any"}

	items, err := o.Expand(context.Background(), tool, []string{"orders"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestDateRangeOrchestratorAppliesToTemporalPhrase(t *testing.T) {
	o := NewDateRangeOrchestrator(nil, nil)
	tool := toolproto.ToolDescriptor{}

	assert.True(t, o.AppliesTo(tool, map[string]interface{}{"date": "last 7 days"}))
	assert.True(t, o.AppliesTo(tool, map[string]interface{}{"date": "yesterday"}))
	assert.False(t, o.AppliesTo(tool, map[string]interface{}{"date": "2026-07-30"}))
}

func TestDateRangeOrchestratorAppliesToMissingRangeArgs(t *testing.T) {
	o := NewDateRangeOrchestrator(nil, nil)
	tool := toolproto.ToolDescriptor{Args: []toolproto.ArgSpec{
		{Name: "start_date", Type: "string"},
		{Name: "end_date", Type: "string"},
	}}

	assert.True(t, o.AppliesTo(tool, map[string]interface{}{}))
	assert.False(t, o.AppliesTo(tool, map[string]interface{}{"start_date": "2026-07-01", "end_date": "2026-07-30"}))
}

func TestDateRangeOrchestratorResolveSingle(t *testing.T) {
	fixed := core.NewFixedClock(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), 0)
	classify := func(ctx context.Context, q string) (string, error) { return "single", nil }
	o := NewDateRangeOrchestrator(classify, fixed)

	res, err := o.Resolve(context.Background(), "show today's total", true)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-30", res.Single)
	assert.Empty(t, res.Start)
}

func TestDateRangeOrchestratorResolveRangeWithNativeSupport(t *testing.T) {
	fixed := core.NewFixedClock(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), 0)
	classify := func(ctx context.Context, q string) (string, error) { return "range", nil }
	o := NewDateRangeOrchestrator(classify, fixed)

	res, err := o.Resolve(context.Background(), "last 7 days", true)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-24", res.Start)
	assert.Equal(t, "2026-07-30", res.End)
	assert.Empty(t, res.Days)
}

func TestDateRangeOrchestratorResolveRangeWithoutNativeSupportExpandsToDays(t *testing.T) {
	fixed := core.NewFixedClock(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), 0)
	classify := func(ctx context.Context, q string) (string, error) { return "range", nil }
	o := NewDateRangeOrchestrator(classify, fixed)

	res, err := o.Resolve(context.Background(), "last 7 days", false)
	require.NoError(t, err)
	assert.Len(t, res.Days, 7)
	assert.Equal(t, "2026-07-24", res.Days[0])
	assert.Equal(t, "2026-07-30", res.Days[6])
}

func TestHallucinatedLoopOrchestratorAppliesToListOfBareStrings(t *testing.T) {
	o := NewHallucinatedLoopOrchestrator()

	loopPhase := planning.Phase{Type: planning.PhaseTypeLoop, LoopOver: []interface{}{"orders", "invoices"}}
	assert.True(t, o.AppliesTo(loopPhase))

	mixedPhase := planning.Phase{Type: planning.PhaseTypeLoop, LoopOver: []interface{}{"orders", 5}}
	assert.False(t, o.AppliesTo(mixedPhase))

	notLoop := planning.Phase{Type: planning.PhaseTypeDefault, LoopOver: []interface{}{"orders"}}
	assert.False(t, o.AppliesTo(notLoop))
}

func TestHallucinatedLoopOrchestratorExpandPrefersTableNameSlot(t *testing.T) {
	o := NewHallucinatedLoopOrchestrator()
	tool := toolproto.ToolDescriptor{Args: []toolproto.ArgSpec{
		{Name: "table_name", Type: "string"},
		{Name: "limit", Type: "number"},
	}}

	out := o.Expand(tool, map[string]interface{}{"limit": 10}, []interface{}{"orders", "invoices"})
	require.Len(t, out, 2)
	assert.Equal(t, "orders", out[0]["table_name"])
	assert.Equal(t, 10, out[0]["limit"])
	assert.Equal(t, "invoices", out[1]["table_name"])
}

func TestHallucinatedLoopOrchestratorExpandFallsBackToFirstUnfilledStringArg(t *testing.T) {
	o := NewHallucinatedLoopOrchestrator()
	tool := toolproto.ToolDescriptor{Args: []toolproto.ArgSpec{
		{Name: "target", Type: "string"},
	}}

	out := o.Expand(tool, map[string]interface{}{}, []interface{}{"orders"})
	require.Len(t, out, 1)
	assert.Equal(t, "orders", out[0]["target"])
}
