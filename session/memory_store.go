package session

import (
	"context"
	"sync"

	"github.com/rgeissen/turnengine/core"
)

// MemoryStore is an in-process Store, useful for tests and single-replica
// deployments without Redis. One mutex guards every session, so calls on
// unrelated sessions are serialised as well.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    core.Clock
}

// NewMemoryStore builds an empty MemoryStore. clock defaults to
// core.SystemClock{} when nil.
func NewMemoryStore(clock core.Clock) *MemoryStore {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &MemoryStore{sessions: make(map[string]*Session), clock: clock}
}

func key(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

func (m *MemoryStore) getOrCreate(userID, sessionID string) *Session {
	k := key(userID, sessionID)
	s, ok := m.sessions[k]
	if !ok {
		now := m.clock.Now()
		s = &Session{UserID: userID, SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
		m.sessions[k] = s
	}
	return s
}

func (m *MemoryStore) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(userID, sessionID)
	cp := *s
	cp.History = append([]Message(nil), s.History...)
	cp.WorkflowHistory = append([]Turn(nil), s.WorkflowHistory...)
	cp.ProfileTagsUsed = append([]string(nil), s.ProfileTagsUsed...)
	cp.ModelsUsed = append([]string(nil), s.ModelsUsed...)
	return &cp, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, userID, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(userID, sessionID)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.clock.Now()
	}
	s.History = append(s.History, msg)
	s.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MemoryStore) AddTokens(ctx context.Context, userID, sessionID string, inputTokens, outputTokens int, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(userID, sessionID)
	s.CumulativeInputTokens += inputTokens
	s.CumulativeOutputTokens += outputTokens
	s.CumulativeCost += cost
	s.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MemoryStore) AppendTurn(ctx context.Context, userID, sessionID string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(userID, sessionID)
	s.WorkflowHistory = append(s.WorkflowHistory, turn)
	s.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MemoryStore) UpdateName(ctx context.Context, userID, sessionID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(userID, sessionID)
	s.Name = name
	s.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MemoryStore) RecordProfileTag(ctx context.Context, userID, sessionID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(userID, sessionID)
	for _, t := range s.ProfileTagsUsed {
		if t == tag {
			return nil
		}
	}
	s.ProfileTagsUsed = append(s.ProfileTagsUsed, tag)
	s.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MemoryStore) RecordModel(ctx context.Context, userID, sessionID, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreate(userID, sessionID)
	for _, mo := range s.ModelsUsed {
		if mo == model {
			return nil
		}
	}
	s.ModelsUsed = append(s.ModelsUsed, model)
	s.UpdatedAt = m.clock.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
