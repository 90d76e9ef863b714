// Package core provides the foundational interfaces shared across turnengine:
// logging, AI client, clock, and circuit breaker. Nothing here depends on
// planning, execution, or catalog so any of those packages can depend on core
// without cycles.
package core

import (
	"context"
	"time"
)

// Logger is the minimal structured logging interface used throughout the
// engine. Implementations must be safe for concurrent use.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a logger tag itself with a component label so
// downstream log aggregation can filter by subsystem, e.g.
// "framework/planning", "framework/execution", "turn/<id>".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as the default when no logger is
// configured, and in tests that don't care about log output.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

func (n NoOpLogger) WithComponent(string) Logger { return n }

// Telemetry is the observability collaborator interface: start spans, emit
// metrics. Implemented by the telemetry package; core stays free of the
// OpenTelemetry SDK import.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	AddEvent(name string, attrs map[string]interface{})
	RecordError(err error)
}

// NoOpTelemetry discards everything. Default when no telemetry provider is
// configured.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

// NoOpSpan discards everything.
type NoOpSpan struct{}

func (NoOpSpan) End()                                      {}
func (NoOpSpan) SetAttribute(string, interface{})          {}
func (NoOpSpan) AddEvent(string, map[string]interface{})   {}
func (NoOpSpan) RecordError(error)                         {}

// AIClient is the collaborator interface for an LM provider adapter; the
// engine ships no concrete provider. Planner, PhaseExecutor,
// CorrectionStrategies, and the Synthesizer all depend only on this
// interface so any provider can be wired in by the application.
type AIClient interface {
	GenerateResponse(ctx context.Context, prompt string, options *AIOptions) (*AIResponse, error)
}

// AIOptions configures a single LM call. Callers set Phase so a dual-model
// setup can route to the strategic or tactical client.
type AIOptions struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
	Phase        CallPhase
}

// CallPhase distinguishes a strategic (meta-planning) LM call from a
// tactical (per-phase action) one.
type CallPhase string

const (
	PhaseStrategic CallPhase = "strategic"
	PhaseTactical  CallPhase = "tactical"
)

// AIResponse is what an AIClient returns.
type AIResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage tracks LM call accounting; summed per-turn and per-session.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Clock is injected wherever the engine needs "now", so tests can drive
// deterministic timestamps for action-history ordering instead of calling
// time.Now directly throughout the codebase.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a deterministic Clock for tests: it advances by Step every
// time Now is called, so ordering tests get strictly increasing timestamps
// without depending on wall-clock time.
type FixedClock struct {
	current time.Time
	Step    time.Duration
}

// NewFixedClock returns a FixedClock starting at start, advancing by step
// on every call to Now.
func NewFixedClock(start time.Time, step time.Duration) *FixedClock {
	return &FixedClock{current: start, Step: step}
}

func (c *FixedClock) Now() time.Time {
	t := c.current
	c.current = c.current.Add(c.Step)
	return t
}

// CircuitBreaker is the resilience collaborator interface. The engine never
// implements retry/backoff policy itself for tool calls that cross the
// transport boundary; it calls through this interface when one is
// configured, and runs uninstrumented otherwise.
type CircuitBreaker interface {
	// Execute runs fn with circuit breaker protection. Returns
	// ErrCircuitOpen immediately without calling fn if the circuit is open.
	Execute(ctx context.Context, fn func() error) error

	// State returns "closed", "open", or "half-open".
	State() string

	// Reset clears failure counts and returns the breaker to closed.
	Reset()
}

// NoOpCircuitBreaker always executes fn directly. Default when no breaker
// is configured.
type NoOpCircuitBreaker struct{}

func (NoOpCircuitBreaker) Execute(ctx context.Context, fn func() error) error { return fn() }
func (NoOpCircuitBreaker) State() string                                     { return "closed" }
func (NoOpCircuitBreaker) Reset()                                            {}
