package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no session exists for the given key.
var ErrNotFound = errors.New("session: not found")

// Store is the collaborator interface every session-state mutation goes
// through. Each method is one atomic operation (append a message, add
// tokens, append a finished turn, rename) rather than "load the whole
// session, mutate a field, save it back" — so two turns racing on the same
// session (a rare but possible overlap at turn boundaries) can't silently
// clobber each other's bookkeeping.
type Store interface {
	// Get loads a session, creating it with zero values if it doesn't yet
	// exist — "created on first turn" per the session lifecycle.
	Get(ctx context.Context, userID, sessionID string) (*Session, error)

	// AppendMessage appends one conversation-history entry.
	AppendMessage(ctx context.Context, userID, sessionID string, msg Message) error

	// AddTokens adds to the session's cumulative token/cost counters.
	AddTokens(ctx context.Context, userID, sessionID string, inputTokens, outputTokens int, cost float64) error

	// AppendTurn appends a completed (or partial) turn to the workflow
	// history. Turns are immutable once appended.
	AppendTurn(ctx context.Context, userID, sessionID string, turn Turn) error

	// UpdateName sets the session's display name (e.g. an LM-generated
	// title derived from the first turn).
	UpdateName(ctx context.Context, userID, sessionID, name string) error

	// RecordProfileTag and RecordModel append to the session's
	// provenance lists if the value isn't already present.
	RecordProfileTag(ctx context.Context, userID, sessionID, tag string) error
	RecordModel(ctx context.Context, userID, sessionID, model string) error
}
