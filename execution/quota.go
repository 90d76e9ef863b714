package execution

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitQuotaChecker enforces core.RateLimitConfig at turn entry: each
// (userID, sessionID) pair gets its own token bucket, refilled to allow
// turnsPerWindow turns per window, lazily created on first use so an idle
// process never pre-allocates a limiter for a session that never turns up.
type RateLimitQuotaChecker struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitQuotaChecker builds a checker allowing turnsPerWindow turns
// per window for every (user, session) pair.
func NewRateLimitQuotaChecker(turnsPerWindow int, window time.Duration) *RateLimitQuotaChecker {
	if turnsPerWindow < 1 {
		turnsPerWindow = 1
	}
	return &RateLimitQuotaChecker{
		limit:    rate.Every(window / time.Duration(turnsPerWindow)),
		burst:    turnsPerWindow,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (q *RateLimitQuotaChecker) limiterFor(key string) *rate.Limiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.limiters[key]
	if !ok {
		l = rate.NewLimiter(q.limit, q.burst)
		q.limiters[key] = l
	}
	return l
}

// Allow implements QuotaChecker.
func (q *RateLimitQuotaChecker) Allow(userID, sessionID string) error {
	key := userID + ":" + sessionID
	if !q.limiterFor(key).Allow() {
		return fmt.Errorf("execution: rate limit exceeded for session %s", sessionID)
	}
	return nil
}

var _ QuotaChecker = (*RateLimitQuotaChecker)(nil)
