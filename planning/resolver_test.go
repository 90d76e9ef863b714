package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCanonicalPlaceholderAgainstWorkflowState(t *testing.T) {
	state := map[string]interface{}{
		"result_of_phase_1": []interface{}{map[string]interface{}{"results": []interface{}{map[string]interface{}{"TableName": "orders"}}}},
	}
	r := NewResolver(state, nil)
	out := r.Resolve(map[string]interface{}{
		"table": map[string]interface{}{"source": "result_of_phase_1", "key": "TableName"},
	}, nil)
	assert.Equal(t, "orders", out["table"])
}

func TestResolveLoopItemPlaceholderAgainstLoopItem(t *testing.T) {
	r := NewResolver(map[string]interface{}{}, nil)
	out := r.Resolve(map[string]interface{}{
		"table": map[string]interface{}{"source": "loop_item", "key": "TableName"},
	}, map[string]interface{}{"TableName": "customers"})
	assert.Equal(t, "customers", out["table"])
}

func TestResolveLegacySingleKeyDictNormalisesAndEmitsCorrection(t *testing.T) {
	state := map[string]interface{}{"result_of_phase_2": map[string]interface{}{"Total": 42}}
	var notes []string
	r := NewResolver(state, nil)
	r.OnCorrection = func(n string) { notes = append(notes, n) }

	out := r.Resolve(map[string]interface{}{
		"total": map[string]interface{}{"result_of_phase_2": "Total"},
	}, nil)
	assert.Equal(t, 42, out["total"])
	assert.NotEmpty(t, notes)
}

func TestResolveUnwrapsSingleValueConvention(t *testing.T) {
	state := map[string]interface{}{
		"result_of_phase_1": []interface{}{map[string]interface{}{"results": []interface{}{map[string]interface{}{"count": 7}}}},
	}
	r := NewResolver(state, nil)
	out := r.Resolve(map[string]interface{}{
		"value": map[string]interface{}{"source": "result_of_phase_1"},
	}, nil)
	assert.Equal(t, 7, out["value"])
}

func TestResolveOmitsArgumentWhenSourceMissing(t *testing.T) {
	r := NewResolver(map[string]interface{}{}, nil)
	out := r.Resolve(map[string]interface{}{
		"table": map[string]interface{}{"source": "result_of_phase_9", "key": "TableName"},
	}, nil)
	_, present := out["table"]
	assert.False(t, present)
}

func TestResolveBareSourceNameString(t *testing.T) {
	state := map[string]interface{}{"injected_previous_turn_data": "previous answer"}
	r := NewResolver(state, nil)
	out := r.Resolve(map[string]interface{}{"context": "injected_previous_turn_data"}, nil)
	assert.Equal(t, "previous answer", out["context"])
}

func TestResolveToolPrefixedStringResolvesViaToolPhaseIndex(t *testing.T) {
	state := map[string]interface{}{"result_of_phase_3": "rows-here"}
	r := NewResolver(state, map[string]int{"RunQuery": 3})
	out := r.Resolve(map[string]interface{}{"data": "tool_RunQuery"}, nil)
	assert.Equal(t, "rows-here", out["data"])
}

func TestResolveEmbeddedTemplateSubstitutesLoopItemField(t *testing.T) {
	r := NewResolver(map[string]interface{}{}, nil)
	out := r.Resolve(map[string]interface{}{
		"sql": "select * from {TableName} where 1=1",
	}, map[string]interface{}{"TableName": "orders"})
	assert.Equal(t, "select * from orders where 1=1", out["sql"])
}

func TestResolveEmbeddedTemplateSubstitutesExplicitPhaseSource(t *testing.T) {
	state := map[string]interface{}{"result_of_phase_1": map[string]interface{}{"start": "2026-01-01"}}
	r := NewResolver(state, nil)
	out := r.Resolve(map[string]interface{}{
		"note": "begins on {result_of_phase_1[start]}",
	}, nil)
	assert.Equal(t, "begins on 2026-01-01", out["note"])
}

func TestResolveRecursesThroughNestedListsOfDicts(t *testing.T) {
	state := map[string]interface{}{"result_of_phase_1": map[string]interface{}{"a": 1}}
	r := NewResolver(state, nil)
	out := r.Resolve(map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"source": "result_of_phase_1", "key": "a"},
		},
	}, nil)
	items := out["items"].([]interface{})
	assert.Equal(t, 1, items[0])
}
