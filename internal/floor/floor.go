package floor

import "sync"

// State of the conversational floor from the agent's point of view.
type State string

const (
	Listening  State = "LISTENING"
	Processing State = "PROCESSING"
)

// Decision describes the outcome of an interruption.
type Decision struct {
	Turn         uint64 // counter value after the interruption
	PreviousTurn uint64
	BargeIn      bool   // a turn was in flight and is now superseded
	Reason       string // "barge_in" or "voice_activity"
}

// Manager owns the per-call turn counter. The counter only grows; work
// tagged with an older value is stale and must not reach the caller.
type Manager struct {
	mu    sync.Mutex
	turn  uint64
	state State
}

func New() *Manager { return &Manager{state: Listening} }

// BeginTurn claims a new turn for a finalized utterance.
func (m *Manager) BeginTurn() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turn++
	m.state = Processing
	return m.turn
}

// Interrupt supersedes whatever is in flight. It always advances the counter,
// even when idle, so any output racing the caller's speech is discarded.
func (m *Manager) Interrupt() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := Decision{PreviousTurn: m.turn, Reason: "voice_activity"}
	if m.state == Processing {
		d.BargeIn = true
		d.Reason = "barge_in"
	}
	m.turn++
	m.state = Listening
	d.Turn = m.turn
	return d
}

// Finish returns the floor to the caller if turn is still current.
func (m *Manager) Finish(turn uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn != m.turn {
		return false
	}
	m.state = Listening
	return true
}

func (m *Manager) IsCurrent(turn uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return turn == m.turn
}

func (m *Manager) Turn() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
