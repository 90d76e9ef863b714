package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/core"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(context.Background(), core.SessionConfig{
		RedisURL: "redis://localhost:6379",
		RedisDB:  15, // avoid colliding with the framework-reserved session DB during tests
		TurnTTL:  time.Minute,
	})
	require.NoError(t, err)
	return store
}

func TestRedisStoreAppendTurnRoundTrips(t *testing.T) {
	requireRedis(t)
	store := newTestRedisStore(t)
	ctx := context.Background()

	sessionID := "redis-test-" + time.Now().Format("150405.000000000")
	require.NoError(t, store.AppendTurn(ctx, "user-1", sessionID, Turn{Number: 1, Status: TurnSuccess, UserQuery: "hi"}))

	sess, err := store.Get(ctx, "user-1", sessionID)
	require.NoError(t, err)
	require.Len(t, sess.WorkflowHistory, 1)
	assert.Equal(t, "hi", sess.WorkflowHistory[0].UserQuery)
}

func TestRedisStoreCompressesLargeRecords(t *testing.T) {
	requireRedis(t)
	store := newTestRedisStore(t)
	ctx := context.Background()

	sessionID := "redis-test-large-" + time.Now().Format("150405.000000000")
	big := make([]byte, compressionThreshold*2)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, store.AppendTurn(ctx, "user-1", sessionID, Turn{
		Number:    1,
		Status:    TurnSuccess,
		FinalPlan: big,
	}))

	sess, err := store.Get(ctx, "user-1", sessionID)
	require.NoError(t, err)
	require.Len(t, sess.WorkflowHistory, 1)
	assert.Len(t, sess.WorkflowHistory[0].FinalPlan, len(big))
}

func TestRedisStoreGetOnMissingSessionReturnsEmpty(t *testing.T) {
	requireRedis(t)
	store := newTestRedisStore(t)
	sess, err := store.Get(context.Background(), "nobody", "nowhere-"+time.Now().Format("150405.000000000"))
	require.NoError(t, err)
	assert.Empty(t, sess.WorkflowHistory)
}
