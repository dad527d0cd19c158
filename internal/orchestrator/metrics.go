package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_calls_started_total",
		Help: "Calls accepted from the bridge",
	})

	metricCallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orch_calls_active",
		Help: "Calls currently live",
	})

	metricCallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_calls_ended_total",
		Help: "Calls ended, by reason",
	}, []string{"reason"})

	metricGhostCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_ghost_calls_total",
		Help: "Calls ended for lack of inbound audio",
	})

	metricInboundFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_inbound_frames_total",
		Help: "Caller audio frames received",
	})

	metricOutboundFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_outbound_frames_total",
		Help: "Agent audio frames sent to the bridge",
	})

	metricTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_turns_total",
		Help: "Finalized utterances that started a turn",
	})

	metricVADStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_vad_starts_total",
		Help: "Voice activity signals handled",
	})

	metricBargeIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_barge_in_events_total",
		Help: "Voice activity that superseded a turn in flight",
	})

	metricStaleDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_stale_dropped_total",
		Help: "Output of superseded turns discarded, by checkpoint",
	}, []string{"stage"})

	metricSynthesisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_synthesis_failures_total",
		Help: "Sentences that could not be synthesized even after retry and apology",
	})

	metricRecognizerFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_recognizer_fallbacks_total",
		Help: "Calls ended because speech recognition could not be restored",
	})

	metricRetrievalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_retrieval_failures_total",
		Help: "Knowledge retrieval errors swallowed",
	})

	metricMirrorDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_session_mirror_dropped_total",
		Help: "Session store writes dropped because the per-call queue was full",
	})
)
