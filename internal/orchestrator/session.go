package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yuzu/callagent/internal/agents"
	"yuzu/callagent/internal/bridge"
	"yuzu/callagent/internal/floor"
	"yuzu/callagent/internal/latency"
	"yuzu/callagent/internal/llm"
	"yuzu/callagent/internal/session"
)

const (
	mirrorQueue   = 64
	mirrorTimeout = 2 * time.Second
)

// Call is one live conversation. The floor's turn counter is the only source
// of truth for which work may still reach the caller.
type Call struct {
	id       string
	streamID string
	agent    agents.Agent
	srv      *Server
	sink     bridge.Sink
	rec      Recognizer
	synth    Synthesizer
	floor    *floor.Manager
	lat      *latency.Tracker
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// at most one synthesis in flight
	speakMu sync.Mutex
	// orders frame writes against turn changes
	sendMu sync.Mutex
	playQ  chan clip

	lastAudio atomic.Int64

	mirrorQ    chan mirrorOp
	mirrorDone chan struct{}

	histMu  sync.Mutex
	history []llm.Message

	endOnce sync.Once
	ended   atomic.Bool
	reason  string
	started chan struct{}
	done    chan struct{}
}

type mirrorOp struct {
	name string
	fn   func(ctx context.Context, store session.Store) error
}

func newCall(base context.Context, srv *Server, st bridge.Start, sink bridge.Sink) *Call {
	agent := srv.deps.Agents.Get(st.AgentID)
	ctx, cancel := context.WithCancel(base)
	g, gctx := errgroup.WithContext(ctx)

	c := &Call{
		id:         st.CallID,
		streamID:   st.StreamID,
		agent:      agent,
		srv:        srv,
		sink:       sink,
		floor:      floor.New(),
		ctx:        gctx,
		cancel:     cancel,
		group:      g,
		playQ:      make(chan clip, 32),
		mirrorQ:    make(chan mirrorOp, mirrorQueue),
		mirrorDone: make(chan struct{}),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.logger = srv.logger.With(
		zap.String("call_id", c.id),
		zap.String("stream_id", c.streamID),
		zap.String("agent_id", agent.ID),
	)
	report := srv.deps.Report
	if report == nil {
		report = latency.LogReporter(c.logger)
	}
	c.lat = latency.NewTracker(c.id, report)
	c.rec = srv.deps.Recognizers(gctx, c.id)
	c.synth = srv.deps.Synthesizers(agent)
	c.lastAudio.Store(time.Now().UnixNano())
	go c.mirrorLoop()
	return c
}

func (c *Call) start(ctx context.Context) {
	defer close(c.started)

	ictx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	if err := c.srv.deps.Store.Init(ictx, c.id, c.streamID, c.agent.ID); err != nil {
		c.logger.Warn("session init failed", zap.Error(err))
	}
	cancel()

	metricCallsStarted.Inc()
	metricCallsActive.Inc()
	c.record("call_started", map[string]any{"stream_id": c.streamID, "agent_id": c.agent.ID})
	c.logger.Info("call started")

	c.rec.Start()
	c.group.Go(c.eventLoop)
	c.group.Go(c.playLoop)
	c.group.Go(c.watchdog)

	if c.agent.Greeting != "" {
		turn := c.floor.BeginTurn()
		c.mirrorTurn(turn, session.StageSpeaking)
		c.group.Go(func() error {
			c.speakScript(turn, c.agent.Greeting)
			return nil
		})
	}
}

func (c *Call) ID() string { return c.id }

func (c *Call) Agent() agents.Agent { return c.agent }

func (c *Call) Turn() uint64 { return c.floor.Turn() }

// Done is closed once the call has ended and released its resources.
func (c *Call) Done() <-chan struct{} { return c.done }

// Reason reports why the call ended; empty while it is live.
func (c *Call) Reason() string {
	select {
	case <-c.done:
		return c.reason
	default:
		return ""
	}
}

// HandleAudio forwards one inbound caller frame to the recognizer.
func (c *Call) HandleAudio(frame []byte) {
	if c.ended.Load() {
		return
	}
	c.lastAudio.Store(time.Now().UnixNano())
	metricInboundFrames.Inc()
	c.rec.Send(frame)
}

// Stop ends the call. Safe to call any number of times from any goroutine.
func (c *Call) Stop(reason string) { c.end(reason) }

func (c *Call) end(reason string) {
	c.endOnce.Do(func() {
		c.ended.Store(true)
		c.reason = reason
		c.rec.Close()
		c.synth.Cancel()
		c.cancel()
		c.srv.remove(c.id)

		metricCallsActive.Dec()
		metricCallsEnded.WithLabelValues(reason).Inc()
		c.logger.Info("call ended", zap.String("reason", reason), zap.Uint64("turn", c.floor.Turn()))

		go c.release()
	})
}

// release waits for the call's goroutines, flushes the session mirror and
// drops per-call state.
func (c *Call) release() {
	<-c.started
	if err := c.group.Wait(); err != nil {
		c.logger.Warn("call task failed", zap.Error(err))
	}
	c.record("call_ended", map[string]any{"reason": c.reason, "turn": c.floor.Turn()})
	close(c.mirrorQ)
	<-c.mirrorDone

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := c.srv.deps.Store.Delete(ctx, c.id); err != nil {
		c.logger.Debug("session delete", zap.Error(err))
	}
	c.srv.deps.Events.Forget(c.id)
	close(c.done)
}

// watchdog ends a call whose caller stopped sending audio.
func (c *Call) watchdog() error {
	limit := c.srv.cfg.GhostTimeout
	tick := limit / 5
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-t.C:
			idle := time.Since(time.Unix(0, c.lastAudio.Load()))
			if idle >= limit {
				c.logger.Warn("no inbound audio, ending call", zap.Duration("idle", idle))
				metricGhostCalls.Inc()
				c.record("ghost_timeout", map[string]any{"idle_ms": idle.Milliseconds()})
				c.end("ghost_timeout")
				return nil
			}
		}
	}
}

func (c *Call) record(typ string, payload map[string]any) {
	c.srv.deps.Events.Append(c.id, typ, payload)
}

// mirror queues a best-effort write to the session store. The store is
// advisory, so a full queue drops the write instead of stalling the call.
func (c *Call) mirror(name string, fn func(ctx context.Context, store session.Store) error) {
	if c.ended.Load() {
		return
	}
	select {
	case c.mirrorQ <- mirrorOp{name: name, fn: fn}:
	default:
		metricMirrorDropped.Inc()
	}
}

func (c *Call) mirrorStage(stage session.Stage) {
	c.mirror("stage", func(ctx context.Context, s session.Store) error {
		return s.SetStage(ctx, c.id, stage)
	})
}

func (c *Call) mirrorTurn(turn uint64, stage session.Stage) {
	c.mirror("turn", func(ctx context.Context, s session.Store) error {
		if err := s.SetTurn(ctx, c.id, turn); err != nil {
			return err
		}
		return s.SetStage(ctx, c.id, stage)
	})
}

func (c *Call) mirrorLoop() {
	defer close(c.mirrorDone)
	for op := range c.mirrorQ {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := op.fn(ctx, c.srv.deps.Store); err != nil {
			c.logger.Debug("session mirror failed", zap.String("op", op.name), zap.Error(err))
		}
		cancel()
	}
}

func (c *Call) historySnapshot() []llm.Message {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]llm.Message(nil), c.history...)
}

func (c *Call) remember(role, content string) {
	if content == "" {
		return
	}
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.history = append(c.history, llm.Message{Role: role, Content: content})
	if over := len(c.history) - c.srv.cfg.HistoryLimit; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}
