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
)

const (
	llmDebugKeyPrefix        = "turnengine:llmdebug:"
	llmDebugCompressionLimit = 100 * 1024 // 100KB; prompts/responses run much larger than a session blob

	defaultLLMDebugTTL = 24 * time.Hour
	errorLLMDebugTTL   = 7 * 24 * time.Hour
)

// RedisLLMDebugStoreOption configures a RedisLLMDebugStore at construction.
type RedisLLMDebugStoreOption func(*RedisLLMDebugStore)

func WithLLMDebugLogger(logger core.Logger) RedisLLMDebugStoreOption {
	return func(s *RedisLLMDebugStore) { s.logger = logger }
}

func WithLLMDebugCircuitBreaker(cb core.CircuitBreaker) RedisLLMDebugStoreOption {
	return func(s *RedisLLMDebugStore) { s.cb = cb }
}

func WithLLMDebugKeyPrefix(prefix string) RedisLLMDebugStoreOption {
	return func(s *RedisLLMDebugStore) { s.keyPrefix = prefix }
}

func WithLLMDebugTTL(ttl time.Duration) RedisLLMDebugStoreOption {
	return func(s *RedisLLMDebugStore) { s.ttl = ttl }
}

func WithLLMDebugErrorTTL(ttl time.Duration) RedisLLMDebugStoreOption {
	return func(s *RedisLLMDebugStore) { s.errorTTL = ttl }
}

func WithLLMDebugClock(clock core.Clock) RedisLLMDebugStoreOption {
	return func(s *RedisLLMDebugStore) { s.clock = clock }
}

// RedisLLMDebugStore is a Redis-backed LLMDebugStore: each request's
// interactions accumulate under one gzip-if-large key, with a sorted-set
// index for ListRecent and a built-in retry layer so a transient Redis
// blip never surfaces into a turn's critical path.
type RedisLLMDebugStore struct {
	client    *redis.Client
	logger    core.Logger
	cb        core.CircuitBreaker
	keyPrefix string
	ttl       time.Duration
	errorTTL  time.Duration
	clock     core.Clock

	retry retryPolicy
}

// NewRedisLLMDebugStore dials redisURL, selects redisDB for isolation, and
// verifies connectivity before returning.
func NewRedisLLMDebugStore(ctx context.Context, redisURL string, redisDB int, opts ...RedisLLMDebugStoreOption) (*RedisLLMDebugStore, error) {
	redisOpt, err := redis.ParseURL(redisURL)
	if err != nil {
		redisOpt = &redis.Options{Addr: redisURL}
	}
	redisOpt.DB = redisDB

	client := redis.NewClient(redisOpt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("execution: llm debug store redis connection failed (DB %d): %w", redisDB, err)
	}

	s := &RedisLLMDebugStore{
		client:    client,
		logger:    core.NoOpLogger{},
		keyPrefix: llmDebugKeyPrefix,
		ttl:       defaultLLMDebugTTL,
		errorTTL:  errorLLMDebugTTL,
		clock:     core.SystemClock{},
		retry:     newRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisLLMDebugStore) recordKey(requestID string) string { return s.keyPrefix + requestID }
func (s *RedisLLMDebugStore) indexKey() string                  { return s.keyPrefix + "index" }

func (s *RedisLLMDebugStore) run(ctx context.Context, op func() error) error {
	if s.cb != nil {
		return s.cb.Execute(ctx, op)
	}
	return s.retry.run(ctx, s.logger, op)
}

// RecordInteraction loads the existing record (if any), appends, and saves
// it back. Records are small and append-only within a turn, so no keyed
// lock is needed: a turn's interactions are recorded sequentially by the
// one goroutine driving it.
func (s *RedisLLMDebugStore) RecordInteraction(ctx context.Context, requestID string, interaction LLMInteraction) error {
	return s.run(ctx, func() error {
		record, err := s.load(ctx, requestID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if record == nil {
			record = &LLMDebugRecord{RequestID: requestID, CreatedAt: now}
		}
		record.UpdatedAt = now
		record.Interactions = append(record.Interactions, interaction)

		data, err := s.serialize(record)
		if err != nil {
			return fmt.Errorf("execution: serialize llm debug record: %w", err)
		}

		ttl := s.ttl
		if interaction.Error != "" {
			ttl = s.errorTTL
		}
		if err := s.client.Set(ctx, s.recordKey(requestID), data, ttl).Err(); err != nil {
			return fmt.Errorf("execution: llm debug set: %w", err)
		}

		if err := s.client.ZAdd(ctx, s.indexKey(), &redis.Z{Score: float64(now.UnixNano()), Member: requestID}).Err(); err != nil {
			s.logger.Warn("llm debug index update failed", map[string]interface{}{"request_id": requestID, "error": err.Error()})
		}
		return nil
	})
}

func (s *RedisLLMDebugStore) load(ctx context.Context, requestID string) (*LLMDebugRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("execution: llm debug get: %w", err)
	}
	return s.deserialize(data)
}

func (s *RedisLLMDebugStore) GetRecord(ctx context.Context, requestID string) (*LLMDebugRecord, error) {
	var record *LLMDebugRecord
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

func (s *RedisLLMDebugStore) SetMetadata(ctx context.Context, requestID, key, value string) error {
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

func (s *RedisLLMDebugStore) ExtendTTL(ctx context.Context, requestID string, duration time.Duration) error {
	return s.client.Expire(ctx, s.recordKey(requestID), duration).Err()
}

func (s *RedisLLMDebugStore) ListRecent(ctx context.Context, limit int) ([]LLMDebugRecordSummary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("execution: llm debug list: %w", err)
	}
	summaries := make([]LLMDebugRecordSummary, 0, len(ids))
	for _, id := range ids {
		record, err := s.load(ctx, id)
		if err != nil || record == nil {
			_ = s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		hasError := false
		for _, in := range record.Interactions {
			if in.Error != "" {
				hasError = true
				break
			}
		}
		summaries = append(summaries, LLMDebugRecordSummary{
			RequestID: record.RequestID, TraceID: record.TraceID,
			InteractionCount: len(record.Interactions), HasError: hasError, CreatedAt: record.CreatedAt,
		})
	}
	return summaries, nil
}

func (s *RedisLLMDebugStore) Close() error { return s.client.Close() }

func (s *RedisLLMDebugStore) serialize(record *LLMDebugRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if len(data) <= llmDebugCompressionLimit {
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
	s.logger.Debug("compressed llm debug record", map[string]interface{}{"original_size": len(data), "compressed_size": buf.Len()})
	return buf.Bytes(), nil
}

func (s *RedisLLMDebugStore) deserialize(data []byte) (*LLMDebugRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("execution: empty llm debug record")
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
	var record LLMDebugRecord
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

var _ LLMDebugStore = (*RedisLLMDebugStore)(nil)
