// Package events carries a turn's lifecycle events from the execution
// package out to whatever is watching a turn run: an SSE connection, a
// websocket, a test spy. It has no dependency on execution; an Emitter's
// Emit method has the same shape as execution.EventFunc by construction,
// so the two compose without either package importing the other.
package events

import "time"

// Event is one lifecycle event raised while a turn runs. Name is one of
// the execution package's Event* constants (plan_generated, phase_start,
// tool_result, final_answer, and so on); Payload is the same map that
// constant's call site built.
type Event struct {
	Name      string                 `json:"name"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Emitter receives lifecycle events as they're raised. Emit must be safe
// for concurrent use and must never block the caller for long: a turn's
// execution path calls it synchronously between phases.
type Emitter interface {
	Emit(name string, payload map[string]interface{})
}

// EmitterFunc adapts a plain function to the Emitter interface, mirroring
// execution.EventFunc's signature so a caller can hand a *ChannelEmitter's
// Emit method directly to a PlanExecutor's OnEvent field.
type EmitterFunc func(name string, payload map[string]interface{})

func (f EmitterFunc) Emit(name string, payload map[string]interface{}) { f(name, payload) }
