package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitQuotaCheckerAllowsUpToBurstThenRejects(t *testing.T) {
	q := NewRateLimitQuotaChecker(2, time.Minute)

	assert.NoError(t, q.Allow("u1", "s1"))
	assert.NoError(t, q.Allow("u1", "s1"))
	assert.Error(t, q.Allow("u1", "s1"))
}

func TestRateLimitQuotaCheckerTracksPerSessionIndependently(t *testing.T) {
	q := NewRateLimitQuotaChecker(1, time.Minute)

	assert.NoError(t, q.Allow("u1", "s1"))
	assert.Error(t, q.Allow("u1", "s1"))
	assert.NoError(t, q.Allow("u1", "s2"), "a different session must not share the first session's bucket")
}
