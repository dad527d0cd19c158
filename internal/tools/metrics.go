package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tool_invocations_total",
		Help: "Tool invocations by outcome",
	}, []string{"status"}) // ok, error, unknown, rate_limited

	metricDurationMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tool_duration_ms",
		Help:    "Tool execution time (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	})
)
