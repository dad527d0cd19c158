package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Provider opens a stream of mu-law 8 kHz audio for one piece of text.
type Provider interface {
	Name() string
	Open(ctx context.Context, text string) (io.ReadCloser, error)
	// WithVoice returns a copy bound to a different voice. An empty id keeps the current one.
	WithVoice(voiceID string) Provider
}

type ElevenLabs struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	HTTP    *http.Client
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) WithVoice(voiceID string) Provider {
	c := *e
	if voiceID != "" {
		c.VoiceID = voiceID
	}
	return &c
}

func (e *ElevenLabs) Open(ctx context.Context, text string) (io.ReadCloser, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs: missing api key")
	}
	base := strings.TrimRight(orDefault(e.BaseURL, "https://api.elevenlabs.io"), "/")
	u := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=ulaw_8000&optimize_streaming_latency=3",
		base, url.PathEscape(e.VoiceID))
	body := map[string]any{"text": text}
	if e.ModelID != "" {
		body["model_id"] = e.ModelID
	}
	reqBytes, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("accept", "audio/basic")
	req.Header.Set("content-type", "application/json")
	return do(e.client(), req, "elevenlabs")
}

func (e *ElevenLabs) client() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return http.DefaultClient
}

// DeepgramAura speaks through Deepgram's /v1/speak endpoint.
type DeepgramAura struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

func (d *DeepgramAura) Name() string { return "deepgram" }

func (d *DeepgramAura) WithVoice(voiceID string) Provider {
	c := *d
	if voiceID != "" {
		c.Model = voiceID
	}
	return &c
}

func (d *DeepgramAura) Open(ctx context.Context, text string) (io.ReadCloser, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("deepgram: missing api key")
	}
	q := url.Values{}
	q.Set("model", orDefault(d.Model, "aura-asteria-en"))
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("container", "none")
	base := strings.TrimRight(orDefault(d.BaseURL, "https://api.deepgram.com"), "/")
	reqBytes, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/speak?"+q.Encode(), bytes.NewReader(reqBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+d.APIKey)
	req.Header.Set("content-type", "application/json")
	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	return do(client, req, "deepgram")
}

func do(client *http.Client, req *http.Request, name string) (io.ReadCloser, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status=%d body=%s", name, resp.StatusCode, string(b))
	}
	return resp.Body, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
