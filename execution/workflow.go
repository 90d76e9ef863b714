package execution

import (
	"fmt"
	"sync"

	"github.com/rgeissen/turnengine/session"
)

// WorkflowState is the single `result_of_phase_<N>` / `injected_previous_
// turn_data` map a turn accumulates as phases complete. PlanExecutor owns
// one instance per turn; a sub-executor (a prompt-dispatched phase) is
// handed the same pointer, never a copy, so its tool results are visible
// to the parent's later phases and vice versa.
type WorkflowState struct {
	mu   sync.Mutex
	data map[string]interface{}
}

// NewWorkflowState builds an empty WorkflowState, optionally seeded with
// injected_previous_turn_data.
func NewWorkflowState(previousTurnResult interface{}) *WorkflowState {
	data := make(map[string]interface{})
	if previousTurnResult != nil {
		data["injected_previous_turn_data"] = previousTurnResult
	}
	return &WorkflowState{data: data}
}

// Set records phase's output under its result_of_phase_<N> key.
func (w *WorkflowState) Set(phase int, value interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data[fmt.Sprintf("result_of_phase_%d", phase)] = value
}

// SetKey records an arbitrary key (used for injected_previous_turn_data and
// any source a rewrite rule names directly).
func (w *WorkflowState) SetKey(key string, value interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data[key] = value
}

// Snapshot returns a shallow copy of the current state, safe for a
// Resolver to read without holding WorkflowState's lock across a
// potentially slow downstream call.
func (w *WorkflowState) Snapshot() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]interface{}, len(w.data))
	for k, v := range w.data {
		out[k] = v
	}
	return out
}

// DistilledView replaces every tool output in the snapshot, whatever its
// row count, with {status, metadata: {row_count, columns}, comment},
// protecting the tactical LM call's context window from full result-set
// payloads. Values that are not tool outputs pass through unchanged.
func (w *WorkflowState) DistilledView() map[string]interface{} {
	snapshot := w.Snapshot()
	out := make(map[string]interface{}, len(snapshot))
	for k, v := range snapshot {
		out[k] = distill(v)
	}
	return out
}

func distill(v interface{}) interface{} {
	output, ok := v.(session.ToolOutput)
	if !ok {
		return v
	}
	rowCount := len(output.Results)
	var columns []string
	if rowCount > 0 {
		for col := range output.Results[0] {
			columns = append(columns, col)
		}
	}
	return map[string]interface{}{
		"status": output.Status,
		"metadata": map[string]interface{}{
			"row_count": rowCount,
			"columns":   columns,
		},
		"comment": "full result set omitted from tactical context",
	}
}

// ActionHistory is the ordered trace of every (action, result) pair a turn
// produced, in execution order. PlanExecutor owns it; sub-executors share
// the same pointer so a recursive prompt dispatch's actions interleave
// correctly with the parent's.
type ActionHistory struct {
	mu      sync.Mutex
	entries []session.ActionHistoryEntry
}

// NewActionHistory builds an empty ActionHistory.
func NewActionHistory() *ActionHistory {
	return &ActionHistory{}
}

// Append records one entry. Depth is the execution_depth of the
// PlanExecutor that produced it (0 for the top-level turn).
func (h *ActionHistory) Append(entry session.ActionHistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

// All returns a copy of every entry recorded so far, in order.
func (h *ActionHistory) All() []session.ActionHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]session.ActionHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Last returns the most recently appended entry, or false if empty.
func (h *ActionHistory) Last() (session.ActionHistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return session.ActionHistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}
