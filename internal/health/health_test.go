package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/callagent/internal/config"
	"yuzu/callagent/internal/session"
)

func providers(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"projects":[]}`))
	})
	mux.HandleFunc("/v1/text-to-speech/voice-1/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "xi-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte{0xff, 0xff})
	})
	mux.HandleFunc("/llm/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(base string) config.Config {
	var cfg config.Config
	cfg.Deepgram.APIKey = "dg-key"
	cfg.Eleven.APIKey = "xi-key"
	cfg.Eleven.VoiceID = "voice-1"
	cfg.LLM.BaseURL = base + "/llm"
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func redisStore(t *testing.T) (*session.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return session.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, nil), mr
}

func TestCheckAllHealthy(t *testing.T) {
	srv := providers(t)
	store, _ := redisStore(t)
	ep := Endpoints{Deepgram: srv.URL, ElevenLabs: srv.URL}

	st := Check(context.Background(), testConfig(srv.URL), store, ep, srv.Client())
	require.Len(t, st.Checks, 4)
	for _, c := range st.Checks {
		assert.True(t, c.OK, "%s: %s", c.Name, c.Error)
	}
	assert.True(t, st.OK)
	assert.Contains(t, st.String(), "Health: OK")
}

func TestCheckReportsFailures(t *testing.T) {
	srv := providers(t)
	store, mr := redisStore(t)
	mr.Close()

	cfg := testConfig(srv.URL)
	cfg.Deepgram.APIKey = "wrong"
	cfg.Eleven.VoiceID = "missing"
	cfg.LLM.APIKey = ""

	st := Check(context.Background(), cfg, store, Endpoints{Deepgram: srv.URL, ElevenLabs: srv.URL}, srv.Client())
	assert.False(t, st.OK)

	byName := map[string]CheckResult{}
	for _, c := range st.Checks {
		byName[c.Name] = c
	}
	assert.Contains(t, byName["session_store"].Error, "ping failed")
	assert.Equal(t, "invalid API key (401)", byName["deepgram"].Error)
	assert.Equal(t, `voice ID "missing" not found`, byName["elevenlabs"].Error)
	assert.Equal(t, "LLM_API_KEY not set", byName["llm"].Error)
	assert.Contains(t, st.String(), "✗ deepgram")
}

func TestDeepgramTTSSkipsElevenLabs(t *testing.T) {
	srv := providers(t)
	cfg := testConfig(srv.URL)
	cfg.TTS.Provider = "deepgram"
	st := Check(context.Background(), cfg, session.NewMemoryStore(0), Endpoints{Deepgram: srv.URL}, srv.Client())
	for _, c := range st.Checks {
		assert.NotEqual(t, "elevenlabs", c.Name)
	}
	assert.True(t, st.OK)
}

func TestCheckResultJSONUsesMilliseconds(t *testing.T) {
	b, err := json.Marshal(CheckResult{Name: "llm", OK: true, Latency: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"llm","ok":true,"latency_ms":1500}`, string(b))
}
