package execution

import (
	"context"
	"errors"
	"time"
)

// errNotFound is returned by the NoOp debug/execution stores' read paths,
// matching the "not found" shape a real backend returns for an expired or
// absent record.
var errNotFound = errors.New("execution: debug record not found")

// LLMDebugStore persists every strategic/tactical LM call made during a
// turn, unredacted, so an operator can inspect exactly what prompt
// produced an unexpected plan or answer. Disabled by default; implementations
// must be safe for concurrent use.
type LLMDebugStore interface {
	// RecordInteraction appends one LM call to requestID's debug record.
	// Called off the turn's critical path: errors are logged, never
	// propagated back into RunTurn.
	RecordInteraction(ctx context.Context, requestID string, interaction LLMInteraction) error

	// GetRecord retrieves the complete debug record for a request.
	GetRecord(ctx context.Context, requestID string) (*LLMDebugRecord, error)

	SetMetadata(ctx context.Context, requestID, key, value string) error
	ExtendTTL(ctx context.Context, requestID string, duration time.Duration) error
	ListRecent(ctx context.Context, limit int) ([]LLMDebugRecordSummary, error)
}

// LLMInteraction captures one strategic or tactical LM call, unredacted.
type LLMInteraction struct {
	// Phase identifies what this call was for: "planning", "tactical_step",
	// "correction", "synthesis", "rewrite_classification".
	Phase string `json:"phase"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`

	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model"`
	Temperature  float32 `json:"temperature"`

	Response string `json:"response"`
	Error    string `json:"error,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// LLMDebugRecord is every LM interaction recorded for one turn.
type LLMDebugRecord struct {
	RequestID    string            `json:"request_id"`
	TraceID      string            `json:"trace_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Interactions []LLMInteraction  `json:"interactions"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// LLMDebugRecordSummary is the listing projection of an LLMDebugRecord.
type LLMDebugRecordSummary struct {
	RequestID        string    `json:"request_id"`
	TraceID          string    `json:"trace_id,omitempty"`
	InteractionCount int       `json:"interaction_count"`
	HasError         bool      `json:"has_error"`
	CreatedAt        time.Time `json:"created_at"`
}

// NoOpLLMDebugStore discards every interaction; the default when LM-call
// debugging is disabled.
type NoOpLLMDebugStore struct{}

func (NoOpLLMDebugStore) RecordInteraction(ctx context.Context, requestID string, interaction LLMInteraction) error {
	return nil
}

func (NoOpLLMDebugStore) GetRecord(ctx context.Context, requestID string) (*LLMDebugRecord, error) {
	return nil, errNotFound
}

func (NoOpLLMDebugStore) SetMetadata(ctx context.Context, requestID, key, value string) error {
	return nil
}

func (NoOpLLMDebugStore) ExtendTTL(ctx context.Context, requestID string, duration time.Duration) error {
	return nil
}

func (NoOpLLMDebugStore) ListRecent(ctx context.Context, limit int) ([]LLMDebugRecordSummary, error) {
	return nil, nil
}

var _ LLMDebugStore = NoOpLLMDebugStore{}
