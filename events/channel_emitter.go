package events

import (
	"sync"
	"time"

	"github.com/rgeissen/turnengine/core"
)

// ChannelEmitter fans events out onto a buffered channel for a single
// subscriber (one SSE connection, one websocket connection) to drain.
// Close must be called after the turn that owns it finishes, so the
// subscriber's range loop terminates; calls after the first are no-ops.
type ChannelEmitter struct {
	events chan Event
	clock  core.Clock

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewChannelEmitter creates an emitter buffering up to capacity events
// before Emit starts blocking the turn that's producing them. A turn
// typically raises a few dozen events; 64 gives headroom without risking
// an unbounded backlog if the subscriber stalls.
func NewChannelEmitter(capacity int) *ChannelEmitter {
	if capacity <= 0 {
		capacity = 64
	}
	return &ChannelEmitter{events: make(chan Event, capacity), clock: core.SystemClock{}}
}

// Events returns the channel a subscriber ranges over. Closed once Close
// is called.
func (e *ChannelEmitter) Events() <-chan Event { return e.events }

// Emit implements Emitter. Safe to call after Close: events emitted after
// closing are silently dropped rather than sent on a closed channel,
// since a turn's deferred cleanup can race a late event.
func (e *ChannelEmitter) Emit(name string, payload map[string]interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	e.events <- Event{Name: name, Payload: payload, Timestamp: e.clock.Now()}
}

// Close signals the subscriber that no more events are coming.
func (e *ChannelEmitter) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.events)
	})
}

var _ Emitter = (*ChannelEmitter)(nil)
