// Package tools holds the functions an agent may ask the model to call.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yuzu/callagent/internal/llm"
)

var ErrUnknownTool = errors.New("unknown tool")

// Func executes one tool call. Arguments and results are JSON objects.
type Func func(ctx context.Context, args map[string]any) (map[string]any, error)

type Spec struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema; empty means no arguments
	Timeout     time.Duration   // default 10s
	PerMinute   int             // 0 disables rate limiting
}

type entry struct {
	spec    Spec
	fn      Func
	limiter *rate.Limiter
}

type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{tools: make(map[string]entry), logger: logger.With(zap.String("component", "tools"))}
}

func (r *Registry) Register(spec Spec, fn Func) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s: nil func", spec.Name)
	}
	if spec.Timeout <= 0 {
		spec.Timeout = 10 * time.Second
	}
	e := entry{spec: spec, fn: fn}
	if spec.PerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(spec.PerMinute)), 1)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = e
	r.logger.Info("tool registered", zap.String("name", spec.Name), zap.Duration("timeout", spec.Timeout))
	return nil
}

// RegisterWebhook exposes an HTTP endpoint as a tool. The arguments are
// POSTed as JSON and the response body must be a JSON object.
func (r *Registry) RegisterWebhook(spec Spec, url string, httpc *http.Client) error {
	if url == "" {
		return fmt.Errorf("tool %s: webhook url required", spec.Name)
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return r.Register(spec, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		body, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("webhook status=%d body=%s", resp.StatusCode, string(b))
		}
		var out map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode webhook response: %w", err)
		}
		return out, nil
	})
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Invoke runs the named tool. Unknown names return ErrUnknownTool.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		metricInvocations.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	// the rate-limit wait counts against the tool's timeout
	tctx, cancel := context.WithTimeout(ctx, e.spec.Timeout)
	defer cancel()
	if e.limiter != nil {
		if err := e.limiter.Wait(tctx); err != nil {
			metricInvocations.WithLabelValues("rate_limited").Inc()
			return nil, fmt.Errorf("tool %s rate limited: %w", name, err)
		}
	}
	start := time.Now()
	out, err := e.fn(tctx, args)
	metricDurationMS.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricInvocations.WithLabelValues("error").Inc()
		r.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		return nil, err
	}
	metricInvocations.WithLabelValues("ok").Inc()
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Definitions returns model-facing schemas for the named tools, or for all
// tools when names is empty. Unregistered names are skipped.
func (r *Registry) Definitions(names []string) []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		for n := range r.tools {
			names = append(names, n)
		}
		sort.Strings(names)
	}
	out := make([]llm.Tool, 0, len(names))
	for _, n := range names {
		e, ok := r.tools[n]
		if !ok {
			continue
		}
		params := e.spec.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        e.spec.Name,
				Description: e.spec.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
