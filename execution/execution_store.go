package execution

import (
	"context"
	"time"

	"github.com/rgeissen/turnengine/planning"
	"github.com/rgeissen/turnengine/session"
)

// TurnDebugStore persists a complete turn record (meta-plan + action trace
// + final answer) for later inspection and DAG-style visualization of how a
// turn's phases depended on one another. Disabled by default; cmd/turnengine
// wires a Redis-backed one only when both core.CatalogConfig.DebugStoreEnabled
// (default false) and ExecutionStoreEnabled (default true) are set.
type TurnDebugStore interface {
	// Store saves a complete turn record. Called off the turn's critical
	// path: errors are logged, never propagated back into RunTurn.
	Store(ctx context.Context, record *StoredTurn) error

	Get(ctx context.Context, requestID string) (*StoredTurn, error)
	GetByTraceID(ctx context.Context, traceID string) (*StoredTurn, error)

	SetMetadata(ctx context.Context, requestID, key, value string) error
	ExtendTTL(ctx context.Context, requestID string, duration time.Duration) error
	ListRecent(ctx context.Context, limit int) ([]TurnSummary, error)
}

// StoredTurn is everything needed to replay or visualize one turn.
type StoredTurn struct {
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`

	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	UserQuery string             `json:"user_query"`
	Plan      *planning.MetaPlan `json:"plan,omitempty"`
	Turn      *session.Turn      `json:"turn"`

	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TurnSummary is the listing projection of a StoredTurn.
type TurnSummary struct {
	RequestID     string        `json:"request_id"`
	TraceID       string        `json:"trace_id,omitempty"`
	UserQuery     string        `json:"user_query"`
	Success       bool          `json:"success"`
	PhaseCount    int           `json:"phase_count"`
	FailedPhases  int           `json:"failed_phases"`
	TotalDuration time.Duration `json:"total_duration"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NoOpTurnDebugStore discards every record; the default when turn-execution
// debugging is disabled.
type NoOpTurnDebugStore struct{}

func (NoOpTurnDebugStore) Store(ctx context.Context, record *StoredTurn) error { return nil }

func (NoOpTurnDebugStore) Get(ctx context.Context, requestID string) (*StoredTurn, error) {
	return nil, errNotFound
}

func (NoOpTurnDebugStore) GetByTraceID(ctx context.Context, traceID string) (*StoredTurn, error) {
	return nil, errNotFound
}

func (NoOpTurnDebugStore) SetMetadata(ctx context.Context, requestID, key, value string) error {
	return nil
}

func (NoOpTurnDebugStore) ExtendTTL(ctx context.Context, requestID string, duration time.Duration) error {
	return nil
}

func (NoOpTurnDebugStore) ListRecent(ctx context.Context, limit int) ([]TurnSummary, error) {
	return nil, nil
}

var _ TurnDebugStore = NoOpTurnDebugStore{}

// summarize reduces a StoredTurn to its listing projection, counting failed
// phases from the turn's action history the same way the turn's own
// synthesis does.
func summarize(record *StoredTurn) TurnSummary {
	s := TurnSummary{
		RequestID: record.RequestID,
		TraceID:   record.TraceID,
		UserQuery: record.UserQuery,
		CreatedAt: record.CreatedAt,
	}
	if record.Turn != nil {
		s.Success = record.Turn.Status == session.TurnSuccess
		s.TotalDuration = record.Turn.Duration
		s.PhaseCount = len(record.Turn.ActionHistory)
		for _, entry := range record.Turn.ActionHistory {
			if entry.Result.Status == "error" {
				s.FailedPhases++
			}
		}
	}
	return s
}
