package latency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricThinkMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_think_ms",
		Help:    "Generation start to first sentence (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricSynthMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_synthesis_ms",
		Help:    "Synthesis start to first audio byte of the first sentence (ms)",
		Buckets: prometheus.ExponentialBuckets(20, 1.6, 12),
	})

	metricTotalMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_total_ms",
		Help:    "Utterance finalized to first audio byte (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.5, 12),
	})
)
