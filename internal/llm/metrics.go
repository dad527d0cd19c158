package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Chat completion requests by outcome",
	}, []string{"status"}) // ok, http_error, stream_error, malformed, empty, cancelled

	metricTTFTMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_ttft_ms",
		Help:    "Time from request to first streamed token (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricToolCallsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_tool_calls_requested_total",
		Help: "Tool invocations requested by the model",
	})
)
