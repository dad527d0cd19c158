package bridge

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeCall struct {
	mu      sync.Mutex
	frames  [][]byte
	reasons []string
	done    chan struct{}
	once    sync.Once
}

func newFakeCall() *fakeCall { return &fakeCall{done: make(chan struct{})} }

func (f *fakeCall) HandleAudio(frame []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
}

func (f *fakeCall) Stop(reason string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

func (f *fakeCall) Done() <-chan struct{} { return f.done }

func (f *fakeCall) snapshot() ([][]byte, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...), append([]string(nil), f.reasons...)
}

type harness struct {
	srv    *httptest.Server
	call   *fakeCall
	starts chan Start
	sinks  chan Sink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{call: newFakeCall(), starts: make(chan Start, 1), sinks: make(chan Sink, 1)}
	handler := NewHandler(func(ctx context.Context, st Start, sink Sink) (Call, error) {
		h.starts <- st
		h.sinks <- sink
		return h.call, nil
	}, nil)
	h.srv = httptest.NewServer(handler)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T, query string) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/media" + query
	c, _, err := ws.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ws.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, c *ws.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, v))
}

func startMsg(params map[string]string) Inbound {
	return Inbound{
		Event:     EventStart,
		StreamSid: "MZ1",
		Start:     &StartInfo{CallSid: "CA1", StreamSid: "MZ1", CustomParameters: params},
	}
}

func TestHandlerStartMediaStop(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "")

	send(t, c, Inbound{Event: EventConnected})
	// media before start is ignored
	send(t, c, Inbound{Event: EventMedia, Media: &MediaInfo{Payload: base64.StdEncoding.EncodeToString([]byte{9})}})
	send(t, c, startMsg(map[string]string{"agentId": "support"}))

	st := <-h.starts
	assert.Equal(t, "CA1", st.CallID)
	assert.Equal(t, "MZ1", st.StreamID)
	assert.Equal(t, "support", st.AgentID)

	send(t, c, Inbound{Event: EventMedia, StreamSid: "MZ1", Media: &MediaInfo{Track: "inbound", Payload: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})}})
	send(t, c, Inbound{Event: EventMedia, StreamSid: "MZ1", Media: &MediaInfo{Payload: "!!not-base64"}})
	send(t, c, Inbound{Event: EventStop, StreamSid: "MZ1", Stop: &StopInfo{CallSid: "CA1"}})

	select {
	case <-h.call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call not stopped")
	}
	frames, reasons := h.call.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{1, 2, 3}, frames[0])
	assert.Equal(t, []string{"bridge_stop"}, reasons)
}

func TestHandlerAgentFromQuery(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "?agent=sales")
	send(t, c, Inbound{Event: EventStart, Start: &StartInfo{StreamSid: "MZ2"}})

	st := <-h.starts
	assert.Equal(t, "sales", st.AgentID)
	assert.Equal(t, "MZ2", st.StreamID)
	assert.NotEmpty(t, st.CallID)
}

func TestSinkWritesMediaAndClear(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "")
	send(t, c, startMsg(nil))
	<-h.starts
	sink := <-h.sinks

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sink.SendAudio(ctx, []byte{0xff, 0x7f}))
	require.NoError(t, sink.Clear(ctx))

	var media, clear Outbound
	require.NoError(t, wsjson.Read(ctx, c, &media))
	require.NoError(t, wsjson.Read(ctx, c, &clear))

	assert.Equal(t, EventMedia, media.Event)
	assert.Equal(t, "MZ1", media.StreamSid)
	require.NotNil(t, media.Media)
	raw, err := base64.StdEncoding.DecodeString(media.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x7f}, raw)

	assert.Equal(t, EventClear, clear.Event)
	assert.Equal(t, "MZ1", clear.StreamSid)
	assert.Nil(t, clear.Media)
}

func TestHandlerClosesSocketWhenCallEnds(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "")
	send(t, c, startMsg(nil))
	<-h.starts

	h.call.Stop("ghost_timeout")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, ws.StatusNormalClosure, ws.CloseStatus(err))
}

func TestHandlerDisconnectStopsCall(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "")
	send(t, c, startMsg(nil))
	<-h.starts
	require.NoError(t, c.Close(ws.StatusGoingAway, "bye"))

	select {
	case <-h.call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call not stopped on disconnect")
	}
	_, reasons := h.call.snapshot()
	assert.Equal(t, []string{"bridge_disconnected"}, reasons)
}
