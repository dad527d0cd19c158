package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxPerCall caps the log per call; the oldest entries are dropped first.
const MaxPerCall = 200

type Event struct {
	ID        string         `json:"id"`
	CallID    string         `json:"call_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Store struct {
	mu        sync.RWMutex
	byCall    map[string][]Event
	retention time.Duration
	timers    map[string]*time.Timer
}

// NewStore returns a log that forgets a call's events retention after Forget
// is scheduled. A zero retention keeps them until the process exits.
func NewStore(retention time.Duration) *Store {
	return &Store{
		byCall:    make(map[string][]Event),
		retention: retention,
		timers:    make(map[string]*time.Timer),
	}
}

func (s *Store) Append(callID, typ string, payload map[string]any) Event {
	evt := Event{
		ID:        uuid.NewString(),
		CallID:    callID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCall[callID] = append(s.byCall[callID], evt)
	if l := len(s.byCall[callID]); l > MaxPerCall {
		// Leave room for the truncation marker so the total stays at MaxPerCall
		keep := MaxPerCall - 1
		dropped := l - keep
		s.byCall[callID] = append([]Event(nil), s.byCall[callID][l-keep:]...)
		s.byCall[callID] = append(s.byCall[callID], Event{
			ID:        uuid.NewString(),
			CallID:    callID,
			Type:      "events_truncated",
			Timestamp: time.Now().UTC(),
			Payload:   map[string]any{"dropped": dropped, "kept": keep},
		})
	}
	return evt
}

func (s *Store) List(callID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byCall[callID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Has reports whether any events are retained for the call.
func (s *Store) Has(callID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCall[callID]
	return ok
}

// Forget drops the call's events after the retention period.
func (s *Store) Forget(callID string) {
	if s.retention <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[callID]; ok {
		t.Stop()
	}
	s.timers[callID] = time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.byCall, callID)
		delete(s.timers, callID)
		s.mu.Unlock()
	})
}
