// Package orchestrator runs live calls: it wires the recognizer, generator and
// synthesizer of one call together and owns its turn lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yuzu/callagent/internal/agents"
	"yuzu/callagent/internal/bridge"
	"yuzu/callagent/internal/events"
	"yuzu/callagent/internal/generator"
	"yuzu/callagent/internal/latency"
	"yuzu/callagent/internal/session"
	"yuzu/callagent/internal/stt"
	"yuzu/callagent/internal/tts"
)

var ErrShuttingDown = errors.New("orchestrator shutting down")

// DefaultFallbackPhrase is spoken once when speech recognition is lost for good.
const DefaultFallbackPhrase = "Sorry, I'm having trouble hearing you. Please call back in a moment. Goodbye."

// Recognizer is one call's speech recognition stream.
type Recognizer interface {
	Start()
	Events() <-chan stt.Event
	Send(frame []byte) bool
	Close()
}

// Synthesizer turns one sentence into audio. Cancel aborts the request in
// flight and makes it return a cancelled result.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Result, error)
	Cancel()
}

type Generator interface {
	Generate(ctx context.Context, req generator.Request) <-chan generator.Sentence
	Apology() string
}

type Retriever interface {
	Retrieve(ctx context.Context, query, knowledgeBaseID string) (string, error)
}

type (
	RecognizerFactory  func(ctx context.Context, callID string) Recognizer
	SynthesizerFactory func(agent agents.Agent) Synthesizer
)

type Config struct {
	GhostTimeout   time.Duration
	FrameBytes     int
	FrameInterval  time.Duration
	HistoryLimit   int
	FallbackPhrase string
}

// Deps are shared by every call. Retriever and Report may be nil.
type Deps struct {
	Agents       *agents.Catalog
	Store        session.Store
	Events       *events.Store
	Generator    Generator
	Retriever    Retriever
	Recognizers  RecognizerFactory
	Synthesizers SynthesizerFactory
	Report       func(latency.Report)
}

// Server tracks the live calls of this process.
type Server struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu     sync.Mutex
	calls  map[string]*Call
	closed bool
}

func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if cfg.GhostTimeout <= 0 {
		cfg.GhostTimeout = 10 * time.Second
	}
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = 160
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 20 * time.Millisecond
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.FallbackPhrase == "" {
		cfg.FallbackPhrase = DefaultFallbackPhrase
	}
	if deps.Agents == nil {
		deps.Agents = agents.Builtin()
	}
	if deps.Store == nil {
		deps.Store = session.NewMemoryStore(session.DefaultTTL)
	}
	if deps.Events == nil {
		deps.Events = events.NewStore(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("component", "orchestrator")),
		calls:  make(map[string]*Call),
	}
}

// StartCall sets up a call announced by the bridge. The call lives until
// Stop, ghost timeout or recognizer loss; ctx only carries values.
func (s *Server) StartCall(ctx context.Context, st bridge.Start, sink bridge.Sink) (*Call, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, dup := s.calls[st.CallID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("call %s already active", st.CallID)
	}
	c := newCall(context.WithoutCancel(ctx), s, st, sink)
	s.calls[st.CallID] = c
	s.mu.Unlock()

	c.start(ctx)
	return c, nil
}

// Bridge adapts StartCall for the media websocket handler.
func (s *Server) Bridge() bridge.StartFunc {
	return func(ctx context.Context, st bridge.Start, sink bridge.Sink) (bridge.Call, error) {
		c, err := s.StartCall(ctx, st, sink)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (s *Server) Get(callID string) (*Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	return c, ok
}

func (s *Server) IsLive(callID string) bool {
	_, ok := s.Get(callID)
	return ok
}

func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Server) remove(callID string) {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
}

// Shutdown refuses new calls, ends the live ones and waits for them to
// release their resources or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	live := make([]*Call, 0, len(s.calls))
	for _, c := range s.calls {
		live = append(live, c)
	}
	s.mu.Unlock()

	for _, c := range live {
		c.Stop("server_shutdown")
	}
	for _, c := range live {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.logger.Info("orchestrator stopped", zap.Int("calls_ended", len(live)))
	return nil
}
