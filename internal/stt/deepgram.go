package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	// EventSpeechStarted fires as soon as the provider detects voice activity.
	EventSpeechStarted EventType = "speech_started"
	// EventUtterance carries a finalized transcript.
	EventUtterance EventType = "utterance"
	// EventFallback fires once when the reconnect budget is exhausted.
	EventFallback EventType = "fallback"
)

type Event struct {
	Type EventType
	Text string
	At   time.Time
}

type Config struct {
	APIKey        string
	Model         string
	Language      string
	BaseURL       string
	EndpointingMs int
	UtterEndMs    int
	MaxRetries    int
	Backoff       time.Duration
	KeepAlive     time.Duration
	DialTimeout   time.Duration
	// StableAfter is how long a connection must stay up, delivering
	// messages, before it clears the reconnect budget.
	StableAfter   time.Duration
}

// Recognizer keeps one streaming Deepgram connection alive for a call,
// sending mu-law 8 kHz audio and turning provider messages into Events.
type Recognizer struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg    Config
	url    string
	dialer Dialer
	logger *zap.Logger

	// Outbound audio queue; Send drops on pressure
	sendQ  chan []byte
	events chan Event

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	once    sync.Once

	connMu sync.Mutex
	conn   Conn

	fallbackOnce sync.Once
	done         chan struct{}

	// utterance assembly, owned by the run goroutine
	finals   []string
	lastText string
}

func New(parent context.Context, cfg Config, dialer Dialer, logger *zap.Logger) *Recognizer {
	ctx, cancel := context.WithCancel(parent)
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = 3 * time.Second
	}
	return &Recognizer{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		url:     buildURL(cfg),
		dialer:  dialer,
		logger:  logger.With(zap.String("component", "stt")),
		sendQ:   make(chan []byte, 64),
		events:  make(chan Event, 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func buildURL(cfg Config) string {
	q := url.Values{}
	q.Set("model", orDefault(cfg.Model, "nova-2-phonecall"))
	q.Set("language", orDefault(cfg.Language, "en-US"))
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("channels", "1")
	q.Set("endpointing", fmt.Sprintf("%d", nzd(cfg.EndpointingMs, 300)))
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", fmt.Sprintf("%d", nzd(cfg.UtterEndMs, 1000)))
	q.Set("vad_events", "true")
	base := cfg.BaseURL
	if base == "" {
		base = "wss://api.deepgram.com/v1/listen"
	}
	return base + "?" + q.Encode()
}

// Start launches the connection loop.
func (r *Recognizer) Start() {
	gaugeSessions.Inc()
	go r.run()
}

// Events is closed once the recognizer stops for good.
func (r *Recognizer) Events() <-chan Event { return r.events }

// Done is closed when the connection loop has exited.
func (r *Recognizer) Done() <-chan struct{} { return r.done }

// Send enqueues one audio frame without blocking.
func (r *Recognizer) Send(frame []byte) bool {
	select {
	case <-r.closing:
		return false
	default:
	}
	select {
	case r.sendQ <- frame:
		metricFrames.Inc()
		metricAudioBytes.Add(float64(len(frame)))
		return true
	default:
		metricDrops.Inc()
		return false
	}
}

// Close stops the recognizer. No event is emitted after Close returns.
func (r *Recognizer) Close() {
	r.once.Do(func() {
		close(r.closing)
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		r.connMu.Lock()
		c := r.conn
		r.connMu.Unlock()
		if c != nil {
			wctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			_ = c.Write(wctx, false, []byte(`{"type":"CloseStream"}`))
			cancel()
		}
		r.cancel()
	})
}

func (r *Recognizer) run() {
	defer close(r.done)
	defer close(r.events)
	defer gaugeSessions.Dec()

	failures := 0
	for {
		healthy, err := r.connectAndPump()
		if r.ctx.Err() != nil {
			return
		}
		if healthy {
			failures = 0
		}
		failures++
		if failures > r.cfg.MaxRetries {
			r.logger.Warn("recognizer reconnect budget exhausted",
				zap.Int("failures", failures), zap.Error(err))
			r.fallbackOnce.Do(func() {
				metricFallbacks.Inc()
				r.emit(Event{Type: EventFallback, At: time.Now()})
			})
			return
		}
		wait := time.Duration(failures) * r.cfg.Backoff
		r.logger.Info("recognizer connection lost; reconnecting",
			zap.Int("attempt", failures), zap.Duration("backoff", wait), zap.Error(err))
		metricReconnects.Inc()
		t := time.NewTimer(wait)
		select {
		case <-r.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// connectAndPump runs one connection until it fails. healthy reports whether
// the provider delivered messages on it for at least StableAfter.
func (r *Recognizer) connectAndPump() (healthy bool, err error) {
	hdr := make(http.Header)
	if r.cfg.APIKey != "" {
		hdr.Set("Authorization", "Token "+r.cfg.APIKey)
	}
	dctx, cancel := context.WithTimeout(r.ctx, r.cfg.DialTimeout)
	start := time.Now()
	conn, err := r.dialer.Dial(dctx, r.url, hdr)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))
	r.logger.Debug("recognizer connected", zap.Duration("took", time.Since(start)))

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()

	cctx, stop := context.WithCancel(r.ctx)
	sendDone := make(chan struct{})
	go r.pumpAudio(cctx, conn, sendDone)
	defer func() {
		stop()
		<-sendDone
		r.connMu.Lock()
		r.conn = nil
		r.connMu.Unlock()
		_ = conn.Close()
	}()

	connected := time.Now()
	delivered := false
	for {
		data, err := conn.Read(cctx)
		if err != nil {
			return delivered && time.Since(connected) >= r.cfg.StableAfter, err
		}
		delivered = true
		if len(data) == 0 {
			continue
		}
		r.handleMessage(data)
	}
}

func (r *Recognizer) pumpAudio(ctx context.Context, conn Conn, done chan<- struct{}) {
	defer close(done)
	keepAlive := time.NewTicker(r.cfg.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-r.sendQ:
			if len(b) == 0 {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(wctx, true, b)
			cancel()
			if err != nil {
				r.logger.Debug("recognizer write failed", zap.Error(err))
				return
			}
		case <-keepAlive.C:
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			_ = conn.Write(wctx, false, []byte(`{"type":"KeepAlive"}`))
			cancel()
		}
	}
}

type dgMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (r *Recognizer) handleMessage(data []byte) {
	var m dgMessage
	if err := json.Unmarshal(data, &m); err != nil {
		r.logger.Debug("recognizer sent malformed message", zap.Error(err))
		return
	}
	switch {
	case strings.EqualFold(m.Type, "SpeechStarted"):
		metricUtteranceEvents.WithLabelValues("speech_started").Inc()
		r.emit(Event{Type: EventSpeechStarted, At: time.Now()})

	case strings.EqualFold(m.Type, "Results"):
		text := ""
		if len(m.Channel.Alternatives) > 0 {
			text = strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
		}
		if text != "" {
			r.lastText = text
			if m.IsFinal {
				r.finals = append(r.finals, text)
			}
		}
		if m.SpeechFinal {
			metricUtteranceEvents.WithLabelValues("speech_final").Inc()
			r.flush("speech_final")
		}

	case strings.EqualFold(m.Type, "UtteranceEnd"):
		metricUtteranceEvents.WithLabelValues("utterance_end").Inc()
		r.flush("utterance_end")

	case strings.EqualFold(m.Type, "Error"):
		r.logger.Warn("recognizer reported error",
			zap.String("description", m.Description), zap.String("message", m.Message))
	}
}

// flush emits the assembled utterance. Interim text is used only when the
// provider closed the utterance without any final segment.
func (r *Recognizer) flush(source string) {
	text := strings.Join(r.finals, " ")
	if text == "" && r.lastText != "" && source == "utterance_end" {
		text = r.lastText
		source = "interim_fallback"
	}
	r.finals = nil
	r.lastText = ""
	if text == "" {
		metricEmptyFinalSkipped.Inc()
		return
	}
	metricFinalEmitted.WithLabelValues(source).Inc()
	r.emit(Event{Type: EventUtterance, Text: text, At: time.Now()})
}

func (r *Recognizer) emit(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	case <-r.closing:
	case <-r.ctx.Done():
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nzd(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
