package generator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSentences = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generator_sentences_total",
		Help: "Sentences produced by kind",
	}, []string{"kind"}) // speech, filler, apology

	metricFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generator_fallbacks_total",
		Help: "Generations that ended in an apology, by reason",
	}, []string{"reason"})
)
