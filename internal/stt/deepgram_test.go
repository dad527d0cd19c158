package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs   chan []byte
	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{msgs: make(chan []byte, len(msgs)+8)}
	for _, m := range msgs {
		c.msgs <- []byte(m)
	}
	return c
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-c.msgs:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	}
}

func (c *fakeConn) Write(_ context.Context, _ bool, p []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) wrote(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.writes {
		if strings.Contains(string(w), substr) {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{MaxRetries: 3, Backoff: time.Millisecond, KeepAlive: time.Hour, StableAfter: time.Nanosecond}
}

// flappingDialer accepts every connection, sends one message and drops it.
func flappingDialer(dials *atomic.Int32) DialFunc {
	return func(context.Context, string, http.Header) (Conn, error) {
		dials.Add(1)
		c := newFakeConn(`{"type":"Metadata"}`)
		close(c.msgs)
		return c, nil
	}
}

func collect(t *testing.T, r *Recognizer) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-r.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("events channel never closed; got %+v", out)
		}
	}
}

func TestFallbackAfterRetriesExhausted(t *testing.T) {
	var dials atomic.Int32
	dialer := DialFunc(func(context.Context, string, http.Header) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})
	r := New(context.Background(), testConfig(), dialer, nil)
	r.Start()

	evs := collect(t, r)
	require.Len(t, evs, 1)
	assert.Equal(t, EventFallback, evs[0].Type)
	// initial attempt plus three retries
	assert.Equal(t, int32(4), dials.Load())

	// no more attempts once the budget is spent
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(4), dials.Load())
}

func TestHealthyConnectionResetsFailureCount(t *testing.T) {
	var dials atomic.Int32
	dialer := DialFunc(func(context.Context, string, http.Header) (Conn, error) {
		n := dials.Add(1)
		if n <= 5 {
			c := newFakeConn(`{"type":"Metadata"}`)
			close(c.msgs)
			return c, nil
		}
		return nil, errors.New("down")
	})
	r := New(context.Background(), testConfig(), dialer, nil)
	r.Start()

	evs := collect(t, r)
	require.Len(t, evs, 1)
	assert.Equal(t, EventFallback, evs[0].Type)
	// five drops that each reset the budget, then four failures in a row
	assert.Equal(t, int32(8), dials.Load())
}

func TestShortLivedConnectionsSpendTheBudget(t *testing.T) {
	var dials atomic.Int32
	cfg := testConfig()
	cfg.StableAfter = time.Hour
	r := New(context.Background(), cfg, flappingDialer(&dials), nil)
	r.Start()

	evs := collect(t, r)
	require.Len(t, evs, 1)
	assert.Equal(t, EventFallback, evs[0].Type)
	assert.Equal(t, int32(4), dials.Load())
}

func TestReconnectBackoffIsLinear(t *testing.T) {
	const backoff = 50 * time.Millisecond
	var (
		mu    sync.Mutex
		times []time.Time
	)
	dialer := DialFunc(func(context.Context, string, http.Header) (Conn, error) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return nil, errors.New("connection refused")
	})
	cfg := testConfig()
	cfg.Backoff = backoff
	r := New(context.Background(), cfg, dialer, nil)
	r.Start()
	collect(t, r)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, time.Duration(i)*backoff, "gap before attempt %d", i+1)
	}
	// third wait is 3x, not the 4x a doubling backoff would give
	assert.Less(t, times[3].Sub(times[2]), 4*backoff)
}

func TestUtteranceAssembly(t *testing.T) {
	conn := newFakeConn(
		`{"type":"SpeechStarted"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"there"}]}}`,
		`{"type":"UtteranceEnd"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"maybe"}]}}`,
		`{"type":"UtteranceEnd"}`,
		`not json`,
	)
	dialer := DialFunc(func(context.Context, string, http.Header) (Conn, error) { return conn, nil })
	r := New(context.Background(), testConfig(), dialer, nil)
	r.Start()
	defer r.Close()

	var got []Event
	for len(got) < 3 {
		select {
		case e := <-r.Events():
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %+v", got)
		}
	}
	assert.Equal(t, EventSpeechStarted, got[0].Type)
	assert.Equal(t, Event{Type: EventUtterance, Text: "hello there"}, Event{Type: got[1].Type, Text: got[1].Text})
	assert.Equal(t, "maybe", got[2].Text)
}

func TestNoEventsAfterClose(t *testing.T) {
	conn := newFakeConn()
	dialer := DialFunc(func(context.Context, string, http.Header) (Conn, error) { return conn, nil })
	r := New(context.Background(), testConfig(), dialer, nil)
	r.Start()

	conn.msgs <- []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"first"}]}}`)
	require.Eventually(t, func() bool { r.connMu.Lock(); defer r.connMu.Unlock(); return r.conn != nil }, time.Second, time.Millisecond)

	r.Close()
	conn.msgs <- []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"late"}]}}`)

	for _, e := range collect(t, r) {
		assert.NotEqual(t, EventUtterance, e.Type, "utterance emitted after close: %+v", e)
	}
	assert.True(t, conn.wrote("CloseStream"))
	assert.False(t, r.Send([]byte{0xff}))
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	r := New(context.Background(), testConfig(), nil, nil)
	for i := 0; i < cap(r.sendQ); i++ {
		require.True(t, r.Send([]byte{0xff}))
	}
	assert.False(t, r.Send([]byte{0xff}))
}

func TestAudioForwardedToProvider(t *testing.T) {
	conn := newFakeConn()
	dialer := DialFunc(func(context.Context, string, http.Header) (Conn, error) { return conn, nil })
	r := New(context.Background(), testConfig(), dialer, nil)
	r.Start()
	defer r.Close()

	r.Send([]byte("frame-1"))
	assert.Eventually(t, func() bool { return conn.wrote("frame-1") }, time.Second, time.Millisecond)
}

func TestBuildURL(t *testing.T) {
	u := buildURL(Config{EndpointingMs: 300})
	for _, want := range []string{"encoding=mulaw", "sample_rate=8000", "vad_events=true", "endpointing=300", "interim_results=true"} {
		assert.Contains(t, u, want)
	}
	assert.True(t, strings.HasPrefix(u, "wss://api.deepgram.com/v1/listen?"))
}
