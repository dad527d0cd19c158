package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeRegisteredFunc(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Spec{Name: "order_status"}, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"order_id": args["order_id"], "status": "shipped"}, nil
	}))

	out, err := r.Invoke(context.Background(), "order_status", map[string]any{"order_id": "123"})
	require.NoError(t, err)
	assert.Equal(t, "shipped", out["status"])
	assert.Equal(t, "123", out["order_id"])
}

func TestInvokeUnknown(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Invoke(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	fn := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	require.NoError(t, r.Register(Spec{Name: "a"}, fn))
	assert.Error(t, r.Register(Spec{Name: "a"}, fn))
}

func TestInvokeTimeout(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Spec{Name: "slow", Timeout: 20 * time.Millisecond}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	_, err := r.Invoke(context.Background(), "slow", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWebhookTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "Paris", args["city"])
		json.NewEncoder(w).Encode(map[string]any{"temp_c": 18})
	}))
	defer srv.Close()

	r := NewRegistry(nil)
	require.NoError(t, r.RegisterWebhook(Spec{Name: "weather"}, srv.URL, nil))
	out, err := r.Invoke(context.Background(), "weather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, float64(18), out["temp_c"])
}

func TestWebhookToolErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRegistry(nil)
	require.NoError(t, r.RegisterWebhook(Spec{Name: "crm"}, srv.URL, nil))
	_, err := r.Invoke(context.Background(), "crm", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

func TestDefinitions(t *testing.T) {
	r := NewRegistry(nil)
	fn := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	require.NoError(t, r.Register(Spec{Name: "b", Description: "bee"}, fn))
	require.NoError(t, r.Register(Spec{Name: "a", Parameters: json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`)}, fn))

	all := r.Definitions(nil)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Function.Name)
	assert.Equal(t, "function", all[0].Type)

	some := r.Definitions([]string{"b", "missing"})
	require.Len(t, some, 1)
	assert.Equal(t, "bee", some[0].Function.Description)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(some[0].Function.Parameters))
}

func TestRateLimitedToolHonoursContext(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Spec{Name: "rl", PerMinute: 1}, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}))
	_, err := r.Invoke(context.Background(), "rl", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Invoke(ctx, "rl", nil)
	assert.Error(t, err)
}

func TestRateLimitWaitBoundedByToolTimeout(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Spec{Name: "rl", PerMinute: 1, Timeout: 50 * time.Millisecond}, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}))
	_, err := r.Invoke(context.Background(), "rl", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Invoke(context.Background(), "rl", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
