package session

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
	compressionThreshold = 32 * 1024 // 32KB; sessions are smaller than execution debug records
	defaultKeyPrefix      = "turnengine:session:"
)

// RedisStore is a Redis-backed Store, isolated onto its own DB per
// core.Config.Session.RedisDB (default DB 2, a dedicated DB index per
// concern rather than sharing DB 0 with everything else). Each session
// round-trips as one gzip-if-large JSON blob under a single key, read,
// mutated, and written back under a per-key lock held only long enough to
// do that.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    core.Logger
	cb        core.CircuitBreaker
	clock     core.Clock

	locks keyedMutex
}

// RedisStoreOption configures a RedisStore at construction.
type RedisStoreOption func(*RedisStore)

// WithRedisStoreLogger sets the store's logger.
func WithRedisStoreLogger(logger core.Logger) RedisStoreOption {
	return func(s *RedisStore) { s.logger = logger }
}

// WithRedisStoreCircuitBreaker injects an optional circuit breaker around
// Redis calls; the application constructs and owns it, matching the
// pack's "circuit breaker is injected, not created internally" convention.
func WithRedisStoreCircuitBreaker(cb core.CircuitBreaker) RedisStoreOption {
	return func(s *RedisStore) { s.cb = cb }
}

// WithRedisStoreKeyPrefix overrides the default key prefix.
func WithRedisStoreKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithRedisStoreClock overrides the store's time source (tests only).
func WithRedisStoreClock(clock core.Clock) RedisStoreOption {
	return func(s *RedisStore) { s.clock = clock }
}

// NewRedisStore dials redisURL, selects cfg.RedisDB for isolation, and
// verifies connectivity before returning.
func NewRedisStore(ctx context.Context, cfg core.SessionConfig, opts ...RedisStoreOption) (*RedisStore, error) {
	if cfg.RedisURL == "" {
		return nil, core.NewFrameworkError("session.NewRedisStore", "session", core.ErrMissingConfig)
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid redis URL: %w", core.ErrInvalidConfig)
	}
	redisOpt.DB = cfg.RedisDB

	client := redis.NewClient(redisOpt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed (DB %d): %w", cfg.RedisDB, err)
	}

	s := &RedisStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       cfg.TurnTTL,
		logger:    core.NoOpLogger{},
		clock:     core.SystemClock{},
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		s.ttl = 30 * 24 * time.Hour
	}
	return s, nil
}

func (s *RedisStore) redisKey(userID, sessionID string) string {
	return s.keyPrefix + userID + ":" + sessionID
}

// Get loads and deserialises a session, creating an empty one if absent.
func (s *RedisStore) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	var out *Session
	op := func() error {
		var err error
		out, err = s.load(ctx, userID, sessionID)
		return err
	}
	if err := s.run(ctx, op); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) load(ctx context.Context, userID, sessionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.redisKey(userID, sessionID)).Bytes()
	if err == redis.Nil {
		now := s.clock.Now()
		return &Session{UserID: userID, SessionID: sessionID, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	return s.deserialize(raw)
}

func (s *RedisStore) save(ctx context.Context, sess *Session) error {
	data, err := s.serialize(sess)
	if err != nil {
		return fmt.Errorf("session: serialize: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(sess.UserID, sess.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// mutate loads the session, applies fn, and saves it back, serialised per
// (userID, sessionID) by an in-process keyed lock so two concurrent calls
// for the same session don't interleave a read-modify-write.
func (s *RedisStore) mutate(ctx context.Context, userID, sessionID string, fn func(*Session)) error {
	unlock := s.locks.lock(userID + "\x00" + sessionID)
	defer unlock()

	return s.run(ctx, func() error {
		sess, err := s.load(ctx, userID, sessionID)
		if err != nil {
			return err
		}
		fn(sess)
		sess.UpdatedAt = s.clock.Now()
		return s.save(ctx, sess)
	})
}

func (s *RedisStore) run(ctx context.Context, op func() error) error {
	if s.cb != nil {
		return s.cb.Execute(ctx, op)
	}
	return op()
}

func (s *RedisStore) AppendMessage(ctx context.Context, userID, sessionID string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.clock.Now()
	}
	return s.mutate(ctx, userID, sessionID, func(sess *Session) {
		sess.History = append(sess.History, msg)
	})
}

func (s *RedisStore) AddTokens(ctx context.Context, userID, sessionID string, inputTokens, outputTokens int, cost float64) error {
	return s.mutate(ctx, userID, sessionID, func(sess *Session) {
		sess.CumulativeInputTokens += inputTokens
		sess.CumulativeOutputTokens += outputTokens
		sess.CumulativeCost += cost
	})
}

func (s *RedisStore) AppendTurn(ctx context.Context, userID, sessionID string, turn Turn) error {
	return s.mutate(ctx, userID, sessionID, func(sess *Session) {
		sess.WorkflowHistory = append(sess.WorkflowHistory, turn)
	})
}

func (s *RedisStore) UpdateName(ctx context.Context, userID, sessionID, name string) error {
	return s.mutate(ctx, userID, sessionID, func(sess *Session) {
		sess.Name = name
	})
}

func (s *RedisStore) RecordProfileTag(ctx context.Context, userID, sessionID, tag string) error {
	return s.mutate(ctx, userID, sessionID, func(sess *Session) {
		for _, t := range sess.ProfileTagsUsed {
			if t == tag {
				return
			}
		}
		sess.ProfileTagsUsed = append(sess.ProfileTagsUsed, tag)
	})
}

func (s *RedisStore) RecordModel(ctx context.Context, userID, sessionID, model string) error {
	return s.mutate(ctx, userID, sessionID, func(sess *Session) {
		for _, m := range sess.ModelsUsed {
			if m == model {
				return
			}
		}
		sess.ModelsUsed = append(sess.ModelsUsed, model)
	})
}

// serialize gzip-compresses sess when it exceeds compressionThreshold,
// prefixing a one-byte compression flag (same scheme the execution debug
// store uses for its own large payloads).
func (s *RedisStore) serialize(sess *Session) ([]byte, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if len(data) <= compressionThreshold {
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
	s.logger.Debug("compressed session record", map[string]interface{}{
		"original_size":   len(data),
		"compressed_size": buf.Len(),
	})
	return buf.Bytes(), nil
}

func (s *RedisStore) deserialize(data []byte) (*Session, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("session: empty record")
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

	var sess Session
	if err := json.Unmarshal(jsonData, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

var _ Store = (*RedisStore)(nil)
