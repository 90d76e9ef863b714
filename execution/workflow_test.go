package execution

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rgeissen/turnengine/session"
)

func TestNewWorkflowStateSeedsInjectedPreviousTurnData(t *testing.T) {
	empty := NewWorkflowState(nil)
	assert.NotContains(t, empty.Snapshot(), "injected_previous_turn_data")

	seeded := NewWorkflowState("yesterday's total was 42")
	snap := seeded.Snapshot()
	assert.Equal(t, "yesterday's total was 42", snap["injected_previous_turn_data"])
}

func TestWorkflowStateSetStoresUnderPerPhaseKey(t *testing.T) {
	w := NewWorkflowState(nil)
	w.Set(1, "result one")
	w.Set(2, "result two")

	snap := w.Snapshot()
	assert.Equal(t, "result one", snap["result_of_phase_1"])
	assert.Equal(t, "result two", snap["result_of_phase_2"])
}

func TestWorkflowStateSnapshotIsACopy(t *testing.T) {
	w := NewWorkflowState(nil)
	w.Set(1, "original")

	snap := w.Snapshot()
	snap["result_of_phase_1"] = "mutated"

	assert.Equal(t, "original", w.Snapshot()["result_of_phase_1"])
}

func TestWorkflowStateDistilledViewSummarizesToolOutput(t *testing.T) {
	w := NewWorkflowState(nil)
	w.Set(1, session.ToolOutput{
		Status: "success",
		Results: []map[string]interface{}{
			{"id": 1, "name": "a"},
			{"id": 2, "name": "b"},
		},
	})

	view := w.DistilledView()["result_of_phase_1"].(map[string]interface{})
	assert.Equal(t, "success", view["status"])
	metadata := view["metadata"].(map[string]interface{})
	assert.Equal(t, 2, metadata["row_count"])
	assert.ElementsMatch(t, []string{"id", "name"}, metadata["columns"])
}

func TestWorkflowStateDistilledViewPassesThroughNonToolOutputValues(t *testing.T) {
	w := NewWorkflowState(nil)
	w.Set(1, "plain string result")

	view := w.DistilledView()
	assert.Equal(t, "plain string result", view["result_of_phase_1"])
}

func TestWorkflowStateIsSafeForConcurrentWrites(t *testing.T) {
	w := NewWorkflowState(nil)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.Set(n, n)
		}(i)
	}
	wg.Wait()
	assert.Len(t, w.Snapshot(), 50)
}

func TestActionHistoryAppendAndAll(t *testing.T) {
	h := NewActionHistory()
	_, ok := h.Last()
	assert.False(t, ok)

	h.Append(session.ActionHistoryEntry{Phase: 1})
	h.Append(session.ActionHistoryEntry{Phase: 2})

	all := h.All()
	assert.Len(t, all, 2)

	last, ok := h.Last()
	assert.True(t, ok)
	assert.Equal(t, 2, last.Phase)
}

func TestActionHistoryAllReturnsACopy(t *testing.T) {
	h := NewActionHistory()
	h.Append(session.ActionHistoryEntry{Phase: 1})

	all := h.All()
	all[0].Phase = 999

	last, _ := h.Last()
	assert.Equal(t, 1, last.Phase)
}
