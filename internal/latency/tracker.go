// Package latency measures per-turn response latency for a call.
package latency

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxOpenTurns bounds bookkeeping for turns that never produced audio.
const maxOpenTurns = 16

type Report struct {
	CallID    string
	Turn      uint64
	Think     time.Duration // generation start -> first sentence
	Synthesis time.Duration // synthesis start -> first audio byte, first sentence
	Total     time.Duration // turn start -> first audio byte
}

type marks struct {
	start         time.Time
	genStart      time.Time
	firstSentence time.Time
	synthStart    map[int]time.Time
}

// Tracker collects timestamps per turn and reports once per turn, when the
// first sentence's audio is ready. Reported or discarded turns are forgotten.
type Tracker struct {
	mu     sync.Mutex
	callID string
	turns  map[uint64]*marks
	now    func() time.Time
	report func(Report)
}

func NewTracker(callID string, report func(Report)) *Tracker {
	if report == nil {
		report = func(Report) {}
	}
	return &Tracker{callID: callID, turns: make(map[uint64]*marks), now: time.Now, report: report}
}

func (t *Tracker) TurnStarted(turn uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.turns) >= maxOpenTurns {
		var oldest uint64
		first := true
		for k := range t.turns {
			if first || k < oldest {
				oldest, first = k, false
			}
		}
		delete(t.turns, oldest)
	}
	t.turns[turn] = &marks{start: t.now(), synthStart: make(map[int]time.Time)}
}

func (t *Tracker) GenerationStarted(turn uint64) {
	t.with(turn, func(m *marks) {
		if m.genStart.IsZero() {
			m.genStart = t.now()
		}
	})
}

func (t *Tracker) FirstSentence(turn uint64) {
	t.with(turn, func(m *marks) {
		if m.firstSentence.IsZero() {
			m.firstSentence = t.now()
		}
	})
}

func (t *Tracker) SynthesisStarted(turn uint64, seq int) {
	t.with(turn, func(m *marks) {
		if _, ok := m.synthStart[seq]; !ok {
			m.synthStart[seq] = t.now()
		}
	})
}

// FirstAudio records the first audio byte of sentence seq as arriving now.
func (t *Tracker) FirstAudio(turn uint64, seq int) {
	t.FirstAudioAt(turn, seq, time.Time{}, time.Time{})
}

// FirstAudioAt records when synthesis of sentence seq started and when its
// first audio byte arrived, as measured by the synthesizer. Zero times fall
// back to the SynthesisStarted mark and the current time. For the first
// sentence of the turn it emits the report and drops the turn.
func (t *Tracker) FirstAudioAt(turn uint64, seq int, started, firstByte time.Time) {
	t.mu.Lock()
	m, ok := t.turns[turn]
	if !ok || seq != 0 {
		t.mu.Unlock()
		return
	}
	at := firstByte
	if at.IsZero() {
		at = t.now()
	}
	if started.IsZero() {
		started = m.synthStart[seq]
	}
	r := Report{CallID: t.callID, Turn: turn, Total: at.Sub(m.start)}
	if !m.genStart.IsZero() && !m.firstSentence.IsZero() {
		r.Think = m.firstSentence.Sub(m.genStart)
	}
	if !started.IsZero() {
		r.Synthesis = at.Sub(started)
	}
	delete(t.turns, turn)
	t.mu.Unlock()

	t.report(r)
}

// DiscardBefore forgets every turn older than turn.
func (t *Tracker) DiscardBefore(turn uint64) {
	t.mu.Lock()
	for k := range t.turns {
		if k < turn {
			delete(t.turns, k)
		}
	}
	t.mu.Unlock()
}

// Open is the number of turns still being tracked.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

func (t *Tracker) with(turn uint64, fn func(*marks)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.turns[turn]; ok {
		fn(m)
	}
}

// LogReporter logs each report and feeds the latency histograms.
func LogReporter(logger *zap.Logger) func(Report) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "latency"))
	return func(r Report) {
		metricThinkMS.Observe(float64(r.Think.Milliseconds()))
		metricSynthMS.Observe(float64(r.Synthesis.Milliseconds()))
		metricTotalMS.Observe(float64(r.Total.Milliseconds()))
		logger.Info("turn latency",
			zap.String("call_id", r.CallID),
			zap.Uint64("turn", r.Turn),
			zap.Int64("think_ms", r.Think.Milliseconds()),
			zap.Int64("synthesis_ms", r.Synthesis.Milliseconds()),
			zap.Int64("total_ms", r.Total.Milliseconds()),
		)
	}
}
