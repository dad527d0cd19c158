// Package session mirrors per-call state into a shared, expiring store.
//
// The orchestrator's in-process turn counter is authoritative; records here are
// an eventually consistent view for observability and out-of-process readers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Stage string

const (
	StageListening     Stage = "LISTENING"
	StageThinking      Stage = "THINKING"
	StageSpeaking      Stage = "SPEAKING"
	StageToolExecution Stage = "TOOL_EXECUTION"
)

// DefaultTTL is how long a record survives after its last write.
const DefaultTTL = time.Hour

type Session struct {
	CallID     string    `json:"call_id"`
	StreamID   string    `json:"stream_id"`
	AgentID    string    `json:"agent_id"`
	Stage      Stage     `json:"stage"`
	Turn       uint64    `json:"turn"`
	Interrupts int64     `json:"interrupts"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is implemented by RedisStore and MemoryStore. Every write refreshes
// the record's expiry; writes against an unknown call return ErrNotFound.
type Store interface {
	Init(ctx context.Context, callID, streamID, agentID string) error
	SetStage(ctx context.Context, callID string, stage Stage) error
	SetTurn(ctx context.Context, callID string, turn uint64) error
	IncrementInterrupts(ctx context.Context, callID string) (int64, error)
	Get(ctx context.Context, callID string) (Session, error)
	Delete(ctx context.Context, callID string) error
	Ping(ctx context.Context) error
}

type memEntry struct {
	sess      Session
	expiresAt time.Time
}

// MemoryStore keeps records in process. Expired records are dropped lazily.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	recs map[string]*memEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, recs: make(map[string]*memEntry)}
}

func (m *MemoryStore) Init(_ context.Context, callID, streamID, agentID string) error {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[callID] = &memEntry{
		sess: Session{
			CallID:    callID,
			StreamID:  streamID,
			AgentID:   agentID,
			Stage:     StageListening,
			CreatedAt: now,
			UpdatedAt: now,
		},
		expiresAt: now.Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) SetStage(_ context.Context, callID string, stage Stage) error {
	return m.update(callID, func(s *Session) { s.Stage = stage })
}

func (m *MemoryStore) SetTurn(_ context.Context, callID string, turn uint64) error {
	return m.update(callID, func(s *Session) { s.Turn = turn })
}

func (m *MemoryStore) IncrementInterrupts(_ context.Context, callID string) (int64, error) {
	var n int64
	err := m.update(callID, func(s *Session) {
		s.Interrupts++
		n = s.Interrupts
	})
	return n, err
}

func (m *MemoryStore) Get(_ context.Context, callID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(callID)
	if e == nil {
		return Session{}, ErrNotFound
	}
	return e.sess, nil
}

func (m *MemoryStore) Delete(_ context.Context, callID string) error {
	m.mu.Lock()
	delete(m.recs, callID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) update(callID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(callID)
	if e == nil {
		return ErrNotFound
	}
	fn(&e.sess)
	now := m.now().UTC()
	e.sess.UpdatedAt = now
	e.expiresAt = now.Add(m.ttl)
	return nil
}

// live must be called with mu held.
func (m *MemoryStore) live(callID string) *memEntry {
	e, ok := m.recs[callID]
	if !ok {
		return nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.recs, callID)
		return nil
	}
	return e
}
