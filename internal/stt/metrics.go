package stt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_audio_bytes_total",
		Help: "Total audio bytes enqueued to provider",
	})

	metricFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_frames_total",
		Help: "Total audio frames enqueued to provider",
	})

	metricDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_drops_total",
		Help: "Total audio frames dropped due to backpressure",
	})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_reconnects_total",
		Help: "Reconnect attempts after a failed or dropped provider connection",
	})

	metricFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_fallback_total",
		Help: "Calls whose recognizer exhausted its reconnect budget",
	})

	metricConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_connect_ms",
		Help:    "Time to establish provider connection (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	gaugeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stt_sessions_active",
		Help: "Active STT sessions",
	})

	metricFinalEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_final_emitted_total",
		Help: "Finalized utterances emitted by source (speech_final, utterance_end, interim_fallback)",
	}, []string{"source"})

	metricEmptyFinalSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_empty_final_skipped_total",
		Help: "Utterance boundaries with no text to emit",
	})

	metricUtteranceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_utterance_events_total",
		Help: "Utterance boundary events observed",
	}, []string{"type"}) // speech_started, speech_final, utterance_end
)
