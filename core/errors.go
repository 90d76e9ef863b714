package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is. Kept generic so they can be
// wrapped with FrameworkError for additional context.
var (
	ErrTurnRejected       = errors.New("turn rejected")
	ErrSessionNotFound    = errors.New("session not found")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingConfig      = errors.New("missing required configuration")
	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitOpen        = errors.New("circuit breaker open")
)

// FrameworkError provides structured error context with wrapping, in the
// same shape as the rest of the engine's errors so callers can use a single
// errors.Is/As idiom regardless of which subsystem raised it.
type FrameworkError struct {
	Op      string // e.g. "planner.GeneratePlan"
	Kind    string // e.g. "planning", "execution", "session"
	ID      string // optional entity id (turn id, phase number, tool name)
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error { return e.Err }

// NewFrameworkError wraps err with operation/kind context.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// ErrorCategory classifies a tool failure for the correction-strategy and
// error-analyzer routing decisions. Tools report a category; the engine
// decides what to do with it.
type ErrorCategory string

const (
	CategoryInputError   ErrorCategory = "INPUT_ERROR"
	CategoryNotFound     ErrorCategory = "NOT_FOUND"
	CategoryRateLimit    ErrorCategory = "RATE_LIMIT"
	CategoryAuthError    ErrorCategory = "AUTH_ERROR"
	CategoryServiceError ErrorCategory = "SERVICE_ERROR"
	CategoryDefinitive   ErrorCategory = "DEFINITIVE"
)

// ToolError is the structured error a tool's invocation returns. The engine
// falls back to the correction-strategy regex table only when a tool fails
// to return one of these; this is the preferred, structured path.
type ToolError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Category  ErrorCategory     `json:"category"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ToolResponse is the standard envelope a tool invocation returns via the
// transport.
type ToolResponse struct {
	Status       string                    `json:"status"` // "success" | "error"
	Metadata     map[string]interface{}    `json:"metadata"`
	Results      []map[string]interface{}  `json:"results,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	Data         interface{}               `json:"data,omitempty"`
}

// HTTPStatusForCategory maps an ErrorCategory to the HTTP status code a
// transport should report it as, when the transport is HTTP-based.
func HTTPStatusForCategory(c ErrorCategory) int {
	switch c {
	case CategoryInputError:
		return 400
	case CategoryAuthError:
		return 401
	case CategoryNotFound:
		return 404
	case CategoryRateLimit:
		return 429
	case CategoryServiceError:
		return 502
	default:
		return 500
	}
}
