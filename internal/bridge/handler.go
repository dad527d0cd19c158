package bridge

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Start describes a call announced by the bridge.
type Start struct {
	CallID   string
	StreamID string
	AgentID  string
	Params   map[string]string
}

// Sink delivers audio and control messages back to the caller.
type Sink interface {
	SendAudio(ctx context.Context, frame []byte) error
	Clear(ctx context.Context) error
}

// Call is the per-call handle the handler feeds.
type Call interface {
	HandleAudio(frame []byte)
	Stop(reason string)
	Done() <-chan struct{}
}

type StartFunc func(ctx context.Context, start Start, sink Sink) (Call, error)

type Handler struct {
	start  StartFunc
	logger *zap.Logger
}

func NewHandler(start StartFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{start: start, logger: logger.With(zap.String("component", "bridge"))}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("ws accept", zap.Error(err))
		return
	}
	c.SetReadLimit(1 << 16)
	defaultAgent := r.URL.Query().Get("agent")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		call   Call
		sink   *wsSink
		reason = "bridge_disconnected"
	)
	defer func() {
		if call != nil {
			call.Stop(reason)
		}
		_ = c.Close(ws.StatusNormalClosure, "done")
	}()

	for {
		var msg Inbound
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			if call != nil {
				h.logger.Debug("bridge read ended", zap.String("stream_id", sink.streamSid), zap.Error(err))
			}
			return
		}
		switch msg.Event {
		case EventConnected:
		case EventStart:
			if call != nil || msg.Start == nil {
				continue
			}
			st := startFrom(msg, defaultAgent)
			sink = &wsSink{conn: c, streamSid: st.StreamID}
			call, err = h.start(ctx, st, sink)
			if err != nil {
				h.logger.Error("start call", zap.String("call_id", st.CallID), zap.Error(err))
				call = nil
				return
			}
			go func(done <-chan struct{}) {
				select {
				case <-done:
					// ended by us (ghost timeout, recognizer fallback)
					_ = c.Close(ws.StatusNormalClosure, "call ended")
				case <-ctx.Done():
				}
			}(call.Done())
		case EventMedia:
			if call == nil || msg.Media == nil {
				continue
			}
			if msg.Media.Track != "" && msg.Media.Track != "inbound" {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				h.logger.Debug("bad media payload", zap.Error(err))
				continue
			}
			call.HandleAudio(frame)
		case EventMark:
		case EventStop:
			reason = "bridge_stop"
			return
		}
	}
}

func startFrom(msg Inbound, defaultAgent string) Start {
	st := Start{
		CallID:   msg.Start.CallSid,
		StreamID: msg.Start.StreamSid,
		Params:   msg.Start.CustomParameters,
	}
	if st.StreamID == "" {
		st.StreamID = msg.StreamSid
	}
	if st.CallID == "" {
		st.CallID = uuid.NewString()
	}
	for _, k := range []string{"agentId", "agent_id", "agent"} {
		if v := st.Params[k]; v != "" {
			st.AgentID = v
			break
		}
	}
	if st.AgentID == "" {
		st.AgentID = defaultAgent
	}
	return st
}

// wsSink serializes writes so a clear never interleaves with a media frame.
type wsSink struct {
	mu        sync.Mutex
	conn      *ws.Conn
	streamSid string
}

func (s *wsSink) SendAudio(ctx context.Context, frame []byte) error {
	return s.write(ctx, Outbound{
		Event:     EventMedia,
		StreamSid: s.streamSid,
		Media:     &OutboundMedia{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

func (s *wsSink) Clear(ctx context.Context) error {
	return s.write(ctx, Outbound{Event: EventClear, StreamSid: s.streamSid})
}

func (s *wsSink) write(ctx context.Context, v Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return wsjson.Write(wctx, s.conn, v)
}
