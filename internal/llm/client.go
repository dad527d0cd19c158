package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrMalformed     = errors.New("llm: malformed stream chunk")
)

type ClientConfig struct {
	BaseURL string // OpenAI-compatible base, e.g. https://api.openai.com/v1
	APIKey  string
	Model   string

	// Azure OpenAI; used when both AzureEndpoint and Deployment are set
	AzureEndpoint string
	AzureAPIKey   string
	Deployment    string
	APIVersion    string

	Timeout time.Duration
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	cfg    ClientConfig
	httpc  *http.Client
	logger *zap.Logger
}

func NewClient(cfg ClientConfig, httpc *http.Client, logger *zap.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpc: httpc, logger: logger.With(zap.String("component", "llm"))}
}

func (c *Client) azure() bool { return c.cfg.AzureEndpoint != "" && c.cfg.Deployment != "" }

// Endpoint is the chat completions URL requests are sent to.
func (c *Client) Endpoint() string {
	if c.azure() {
		apiVersion := c.cfg.APIVersion
		if apiVersion == "" {
			apiVersion = "2024-02-15-preview"
		}
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimRight(c.cfg.AzureEndpoint, "/"), c.cfg.Deployment, apiVersion)
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream sends req and calls onText for every content delta as it arrives.
// The returned Response holds the full text and any assembled tool calls.
func (c *Client) Stream(ctx context.Context, req Request, onText func(string)) (Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body := map[string]any{
		"stream":   true,
		"messages": req.Messages,
	}
	if !c.azure() && c.cfg.Model != "" {
		body["model"] = c.cfg.Model
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(reqBytes))
	if err != nil {
		return Response{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	if c.azure() {
		hreq.Header.Set("api-key", c.cfg.AzureAPIKey)
	} else if c.cfg.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpc.Do(hreq)
	if err != nil {
		metricRequests.WithLabelValues(statusFor(ctx, "http_error")).Inc()
		return Response{}, fmt.Errorf("chat completions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metricRequests.WithLabelValues("http_error").Inc()
		return Response{}, fmt.Errorf("chat completions: status=%d body=%s", resp.StatusCode, string(b))
	}

	var (
		text      strings.Builder
		calls     = map[int]*ToolCall{}
		finish    string
		firstSeen bool
	)
	decoder := newSSEDecoder(bufio.NewReader(resp.Body))
	for {
		_, data, err := decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			metricRequests.WithLabelValues(statusFor(ctx, "stream_error")).Inc()
			return Response{}, fmt.Errorf("read stream: %w", err)
		}
		if string(data) == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			metricRequests.WithLabelValues("malformed").Inc()
			return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		ch := chunk.Choices[0]
		if ch.Delta.Content != "" {
			if !firstSeen {
				firstSeen = true
				metricTTFTMS.Observe(float64(time.Since(start).Milliseconds()))
			}
			text.WriteString(ch.Delta.Content)
			if onText != nil {
				onText(ch.Delta.Content)
			}
		}
		for _, tc := range ch.Delta.ToolCalls {
			call := calls[tc.Index]
			if call == nil {
				call = &ToolCall{Type: "function"}
				calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name += tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
		if ch.FinishReason != nil {
			finish = *ch.FinishReason
		}
	}

	out := Response{Text: text.String(), FinishReason: finish}
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		out.ToolCalls = append(out.ToolCalls, *calls[i])
	}
	metricToolCallsRequested.Add(float64(len(out.ToolCalls)))

	if strings.TrimSpace(out.Text) == "" && len(out.ToolCalls) == 0 {
		metricRequests.WithLabelValues("empty").Inc()
		return out, ErrEmptyResponse
	}
	metricRequests.WithLabelValues("ok").Inc()
	c.logger.Debug("completion finished",
		zap.Int("chars", len(out.Text)),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.String("finish_reason", finish),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

func statusFor(ctx context.Context, fallback string) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	return fallback
}
