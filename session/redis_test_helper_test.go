package session

import (
	"net"
	"testing"
	"time"
)

// requireRedis skips the test unless a Redis instance is reachable on
// localhost:6379, mirroring the pack's own Redis test-availability check
// so these tests degrade gracefully in environments without Redis.
func requireRedis(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis-backed test in short mode")
	}
	conn, err := net.DialTimeout("tcp", "localhost:6379", 1*time.Second)
	if err != nil {
		t.Skip("redis not available at localhost:6379")
	}
	conn.Close()
}
