package execution

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/session"
)

const (
	turnDebugKeyPrefix        = "turnengine:turndebug:"
	turnDebugCompressionLimit = 100 * 1024 // 100KB; a turn's action history can run large with loop phases

	defaultTurnDebugTTL = 24 * time.Hour
	errorTurnDebugTTL   = 7 * 24 * time.Hour
)

// RedisTurnDebugStoreOption configures a RedisTurnDebugStore at construction.
type RedisTurnDebugStoreOption func(*RedisTurnDebugStore)

func WithTurnDebugLogger(logger core.Logger) RedisTurnDebugStoreOption {
	return func(s *RedisTurnDebugStore) { s.logger = logger }
}

func WithTurnDebugCircuitBreaker(cb core.CircuitBreaker) RedisTurnDebugStoreOption {
	return func(s *RedisTurnDebugStore) { s.cb = cb }
}

func WithTurnDebugKeyPrefix(prefix string) RedisTurnDebugStoreOption {
	return func(s *RedisTurnDebugStore) { s.keyPrefix = prefix }
}

func WithTurnDebugTTL(ttl time.Duration) RedisTurnDebugStoreOption {
	return func(s *RedisTurnDebugStore) { s.ttl = ttl }
}

func WithTurnDebugErrorTTL(ttl time.Duration) RedisTurnDebugStoreOption {
	return func(s *RedisTurnDebugStore) { s.errorTTL = ttl }
}

func WithTurnDebugClock(clock core.Clock) RedisTurnDebugStoreOption {
	return func(s *RedisTurnDebugStore) { s.clock = clock }
}

// RedisTurnDebugStore is a Redis-backed TurnDebugStore. Each turn round-trips
// as one gzip-if-large JSON blob keyed by request ID, with a secondary key
// mapping trace ID to request ID and a sorted-set index for ListRecent.
type RedisTurnDebugStore struct {
	client    *redis.Client
	logger    core.Logger
	cb        core.CircuitBreaker
	keyPrefix string
	ttl       time.Duration
	errorTTL  time.Duration
	clock     core.Clock

	retry retryPolicy
}

// NewRedisTurnDebugStore dials redisURL, selects redisDB for isolation, and
// verifies connectivity before returning.
func NewRedisTurnDebugStore(ctx context.Context, redisURL string, redisDB int, opts ...RedisTurnDebugStoreOption) (*RedisTurnDebugStore, error) {
	redisOpt, err := redis.ParseURL(redisURL)
	if err != nil {
		redisOpt = &redis.Options{Addr: redisURL}
	}
	redisOpt.DB = redisDB

	client := redis.NewClient(redisOpt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("execution: turn debug store redis connection failed (DB %d): %w", redisDB, err)
	}

	s := &RedisTurnDebugStore{
		client:    client,
		logger:    core.NoOpLogger{},
		keyPrefix: turnDebugKeyPrefix,
		ttl:       defaultTurnDebugTTL,
		errorTTL:  errorTurnDebugTTL,
		clock:     core.SystemClock{},
		retry:     newRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisTurnDebugStore) recordKey(requestID string) string { return s.keyPrefix + requestID }
func (s *RedisTurnDebugStore) indexKey() string                  { return s.keyPrefix + "index" }
func (s *RedisTurnDebugStore) traceKey(traceID string) string    { return s.keyPrefix + "trace:" + traceID }

func (s *RedisTurnDebugStore) run(ctx context.Context, op func() error) error {
	if s.cb != nil {
		return s.cb.Execute(ctx, op)
	}
	return s.retry.run(ctx, s.logger, op)
}

func (s *RedisTurnDebugStore) Store(ctx context.Context, record *StoredTurn) error {
	return s.run(ctx, func() error {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = s.clock.Now()
		}
		data, err := s.serialize(record)
		if err != nil {
			return fmt.Errorf("execution: serialize turn debug record: %w", err)
		}

		ttl := s.ttl
		if record.Turn != nil && record.Turn.Status == session.TurnError {
			ttl = s.errorTTL
		}
		if err := s.client.Set(ctx, s.recordKey(record.RequestID), data, ttl).Err(); err != nil {
			return fmt.Errorf("execution: turn debug set: %w", err)
		}

		if record.TraceID != "" {
			if err := s.client.Set(ctx, s.traceKey(record.TraceID), record.RequestID, ttl).Err(); err != nil {
				s.logger.Warn("turn debug trace index failed", map[string]interface{}{"trace_id": record.TraceID, "error": err.Error()})
			}
		}

		score := float64(record.CreatedAt.UnixNano())
		if err := s.client.ZAdd(ctx, s.indexKey(), &redis.Z{Score: score, Member: record.RequestID}).Err(); err != nil {
			s.logger.Warn("turn debug index update failed", map[string]interface{}{"request_id": record.RequestID, "error": err.Error()})
		}
		return nil
	})
}

func (s *RedisTurnDebugStore) load(ctx context.Context, requestID string) (*StoredTurn, error) {
	data, err := s.client.Get(ctx, s.recordKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("execution: turn debug get: %w", err)
	}
	return s.deserialize(data)
}

func (s *RedisTurnDebugStore) Get(ctx context.Context, requestID string) (*StoredTurn, error) {
	var record *StoredTurn
	err := s.run(ctx, func() error {
		var err error
		record, err = s.load(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errNotFound
	}
	return record, nil
}

func (s *RedisTurnDebugStore) GetByTraceID(ctx context.Context, traceID string) (*StoredTurn, error) {
	var requestID string
	err := s.run(ctx, func() error {
		id, err := s.client.Get(ctx, s.traceKey(traceID)).Result()
		if err == redis.Nil {
			return errNotFound
		}
		if err != nil {
			return fmt.Errorf("execution: turn debug trace lookup: %w", err)
		}
		requestID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, requestID)
}

func (s *RedisTurnDebugStore) SetMetadata(ctx context.Context, requestID, key, value string) error {
	return s.run(ctx, func() error {
		record, err := s.load(ctx, requestID)
		if err != nil {
			return err
		}
		if record == nil {
			return errNotFound
		}
		if record.Metadata == nil {
			record.Metadata = make(map[string]string)
		}
		record.Metadata[key] = value
		data, err := s.serialize(record)
		if err != nil {
			return err
		}
		ttl, err := s.client.TTL(ctx, s.recordKey(requestID)).Result()
		if err != nil || ttl < 0 {
			ttl = s.ttl
		}
		return s.client.Set(ctx, s.recordKey(requestID), data, ttl).Err()
	})
}

func (s *RedisTurnDebugStore) ExtendTTL(ctx context.Context, requestID string, duration time.Duration) error {
	return s.client.Expire(ctx, s.recordKey(requestID), duration).Err()
}

func (s *RedisTurnDebugStore) ListRecent(ctx context.Context, limit int) ([]TurnSummary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("execution: turn debug list: %w", err)
	}
	summaries := make([]TurnSummary, 0, len(ids))
	for _, id := range ids {
		record, err := s.load(ctx, id)
		if err != nil || record == nil {
			_ = s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		summaries = append(summaries, summarize(record))
	}
	return summaries, nil
}

func (s *RedisTurnDebugStore) Close() error { return s.client.Close() }

func (s *RedisTurnDebugStore) serialize(record *StoredTurn) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if len(data) <= turnDebugCompressionLimit {
		return append([]byte{0}, data...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(1)
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	s.logger.Debug("compressed turn debug record", map[string]interface{}{"original_size": len(data), "compressed_size": buf.Len()})
	return buf.Bytes(), nil
}

func (s *RedisTurnDebugStore) deserialize(data []byte) (*StoredTurn, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("execution: empty turn debug record")
	}
	var jsonData []byte
	if data[0] == 1 {
		gz, err := gzip.NewReader(bytes.NewReader(data[1:]))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		decoded, err := io.ReadAll(gz)
		if err != nil {
			return nil, err
		}
		jsonData = decoded
	} else {
		jsonData = data[1:]
	}
	var record StoredTurn
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

var _ TurnDebugStore = (*RedisTurnDebugStore)(nil)
