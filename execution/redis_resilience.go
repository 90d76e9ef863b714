package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rgeissen/turnengine/core"
)

// Layer 1 resilience constants, shared by both Redis-backed debug stores.
// Always active, independent of whether an application injects a
// core.CircuitBreaker (Layer 2); a persistent run of failures trips a
// cooldown window so a down Redis doesn't turn every debug write into a
// multi-second stall on the turn's critical path.
const (
	layer1MaxRetries     = 3
	layer1InitialBackoff = 100 * time.Millisecond
	layer1MaxBackoff     = 2 * time.Second
	layer1FailureWindow  = 30 * time.Second
	layer1MaxFailures    = 5
)

// retryPolicy implements the built-in Layer 1 resilience: simple retry
// with exponential backoff, plus a cooldown once failures pile up.
type retryPolicy struct {
	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
}

func newRetryPolicy() retryPolicy {
	return retryPolicy{}
}

func (r *retryPolicy) run(ctx context.Context, logger core.Logger, op func() error) error {
	r.mu.Lock()
	if r.failureCount >= layer1MaxFailures && time.Since(r.lastFailure) < layer1FailureWindow {
		r.mu.Unlock()
		logger.Warn("redis store in cooldown after repeated failures", map[string]interface{}{
			"failures":     r.failureCount,
			"cooldown_sec": layer1FailureWindow.Seconds(),
		})
		return fmt.Errorf("execution: redis store in cooldown after %d failures", r.failureCount)
	}
	r.mu.Unlock()

	var lastErr error
	backoff := layer1InitialBackoff

	for attempt := 1; attempt <= layer1MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := op(); err == nil {
			r.mu.Lock()
			r.failureCount = 0
			r.mu.Unlock()
			return nil
		} else {
			lastErr = err
		}

		logger.Warn("redis store operation failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"max":     layer1MaxRetries,
			"backoff": backoff.String(),
			"error":   lastErr.Error(),
		})

		if attempt < layer1MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > layer1MaxBackoff {
				backoff = layer1MaxBackoff
			}
		}
	}

	r.mu.Lock()
	r.failureCount++
	r.lastFailure = time.Now()
	r.mu.Unlock()

	return fmt.Errorf("execution: operation failed after %d attempts: %w", layer1MaxRetries, lastErr)
}
