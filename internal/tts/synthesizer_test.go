package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElevenLabsSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1/stream", r.URL.Path)
		assert.Equal(t, "ulaw_8000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "k", r.Header.Get("xi-api-key"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello there.", body["text"])
		w.Write([]byte{0x7f, 0xff, 0x7f, 0xff})
	}))
	defer srv.Close()

	s := NewSynthesizer(&ElevenLabs{APIKey: "k", VoiceID: "voice-1", BaseURL: srv.URL}, nil)
	res, err := s.Synthesize(context.Background(), "Hello there.")
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, []byte{0x7f, 0xff, 0x7f, 0xff}, res.Audio)
	assert.False(t, res.FirstByte.IsZero())
}

func TestDeepgramAuraRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speak", r.URL.Path)
		assert.Equal(t, "mulaw", r.URL.Query().Get("encoding"))
		assert.Equal(t, "8000", r.URL.Query().Get("sample_rate"))
		assert.Equal(t, "aura-luna-en", r.URL.Query().Get("model"))
		assert.Equal(t, "Token dg", r.Header.Get("Authorization"))
		w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	p := (&DeepgramAura{APIKey: "dg", BaseURL: srv.URL}).WithVoice("aura-luna-en")
	res, err := NewSynthesizer(p, nil).Synthesize(context.Background(), "Hi.")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, res.Audio)
}

func TestSynthesizeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSynthesizer(&ElevenLabs{APIKey: "k", VoiceID: "v", BaseURL: srv.URL}, nil)
	_, err := s.Synthesize(context.Background(), "Hello.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}

func TestCancelMidFlightReturnsNoAudio(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xff, 0xff})
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewSynthesizer(&ElevenLabs{APIKey: "k", VoiceID: "v", BaseURL: srv.URL}, nil)
	done := make(chan Result, 1)
	go func() {
		res, err := s.Synthesize(context.Background(), "A long sentence that takes a while.")
		assert.NoError(t, err)
		done <- res
	}()

	time.Sleep(50 * time.Millisecond)
	s.Cancel()

	select {
	case res := <-done:
		assert.True(t, res.Cancelled)
		assert.Empty(t, res.Audio)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled synthesis did not return")
	}
}

func TestContextCancelIsNotAnError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s := NewSynthesizer(&ElevenLabs{APIKey: "k", VoiceID: "v", BaseURL: srv.URL}, nil)
	res, err := s.Synthesize(ctx, "Hello.")
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
}

func TestEmptyTextSkipsProvider(t *testing.T) {
	s := NewSynthesizer(&ElevenLabs{}, nil)
	res, err := s.Synthesize(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, res.Audio)
}
