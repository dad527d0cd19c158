package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yuzu/callagent/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

// MarshalJSON reports latency in whole milliseconds.
func (c CheckResult) MarshalJSON() ([]byte, error) {
	type plain CheckResult
	return json.Marshal(struct {
		plain
		Latency int64 `json:"latency_ms"`
	}{plain(c), c.Latency.Milliseconds()})
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Pinger is the session store's liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Endpoints are the provider API roots probed by the checks.
type Endpoints struct {
	Deepgram   string
	ElevenLabs string
}

var DefaultEndpoints = Endpoints{
	Deepgram:   "https://api.deepgram.com",
	ElevenLabs: "https://api.elevenlabs.io",
}

// CheckAll runs all health checks and returns combined status
func CheckAll(ctx context.Context, cfg config.Config, store Pinger) HealthStatus {
	return Check(ctx, cfg, store, DefaultEndpoints, http.DefaultClient)
}

func Check(ctx context.Context, cfg config.Config, store Pinger, ep Endpoints, client *http.Client) HealthStatus {
	checks := []CheckResult{
		checkStore(ctx, store),
		checkDeepgram(ctx, cfg, ep, client),
	}
	if cfg.TTS.Provider != "deepgram" {
		checks = append(checks, checkElevenLabs(ctx, cfg, ep, client))
	}
	checks = append(checks, checkLLM(ctx, cfg, client))

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func checkStore(ctx context.Context, store Pinger) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "session_store"}
	if store == nil {
		result.Error = "no session store configured"
		return result
	}
	if err := store.Ping(ctx); err != nil {
		result.Error = fmt.Sprintf("ping failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	result.Latency = time.Since(start)
	result.OK = true
	return result
}

func checkDeepgram(ctx context.Context, cfg config.Config, ep Endpoints, client *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "deepgram"}

	if cfg.Deepgram.APIKey == "" {
		result.Error = "DEEPGRAM_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	// Listing projects is the cheapest authenticated call
	req, err := http.NewRequestWithContext(ctx, "GET", ep.Deepgram+"/v1/projects", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Token "+cfg.Deepgram.APIKey)
	return finish(client, req, result, start)
}

func checkElevenLabs(ctx context.Context, cfg config.Config, ep Endpoints, client *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "elevenlabs"}

	if cfg.Eleven.APIKey == "" {
		result.Error = "ELEVENLABS_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	if cfg.Eleven.VoiceID == "" {
		result.Error = "ELEVENLABS_VOICE_ID not set"
		result.Latency = time.Since(start)
		return result
	}

	// A one-character synthesis works with TTS-only keys that lack user_read
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=ulaw_8000", ep.ElevenLabs, cfg.Eleven.VoiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(`{"text":"."}`))
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("xi-api-key", cfg.Eleven.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	if resp.StatusCode == 404 {
		result.Error = fmt.Sprintf("voice ID %q not found", cfg.Eleven.VoiceID)
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}

// checkLLM lists models on the configured endpoint, Azure or OpenAI-compatible.
func checkLLM(ctx context.Context, cfg config.Config, client *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "llm"}

	var (
		url    string
		header string
		value  string
	)
	switch {
	case cfg.UsesAzure():
		if cfg.LLM.AzureAPIKey == "" {
			result.Error = "AZURE_OPENAI_API_KEY not set"
			return result
		}
		url = fmt.Sprintf("%s/openai/models?api-version=%s", strings.TrimSuffix(cfg.LLM.AzureEndpoint, "/"), cfg.LLM.APIVersion)
		header, value = "api-key", cfg.LLM.AzureAPIKey
	case cfg.LLM.BaseURL != "":
		if cfg.LLM.APIKey == "" {
			result.Error = "LLM_API_KEY not set"
			return result
		}
		url = strings.TrimSuffix(cfg.LLM.BaseURL, "/") + "/models"
		header, value = "Authorization", "Bearer "+cfg.LLM.APIKey
	default:
		result.Error = "no LLM endpoint configured"
		return result
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set(header, value)
	return finish(client, req, result, start)
}

func finish(client *http.Client, req *http.Request, result CheckResult, start time.Time) CheckResult {
	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		result.Error = fmt.Sprintf("invalid API key (%d)", resp.StatusCode)
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}

	result.OK = true
	return result
}
