// Package metrics instruments the pipeline with Prometheus collectors:
// per-phase duration histograms, repair-iteration counters, and token
// counters (spec §6's RunReport fields, made observable in real time).
// Grounded on the promoted client_golang dependency; wired via the
// standard promauto registration pattern since no pack repo carries a
// bespoke metrics wrapper worth imitating instead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the collectors a pipeline run updates as phases
// complete.
type Recorder struct {
	PhaseDuration    *prometheus.HistogramVec
	RepairIterations prometheus.Counter
	TokensConsumed   prometheus.Counter
	RunsTotal        *prometheus.CounterVec
	PromotedPatterns prometheus.Counter
}

// NewRecorder registers the Core's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the process
// default registry across parallel test runs.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devmatrix",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each pipeline phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		RepairIterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devmatrix",
			Subsystem: "repair",
			Name:      "iterations_total",
			Help:      "Total repair loop iterations executed across all runs.",
		}),
		TokensConsumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devmatrix",
			Subsystem: "pipeline",
			Name:      "tokens_consumed_total",
			Help:      "Total LLM tokens consumed across all runs.",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devmatrix",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by terminal status.",
		}, []string{"status"}),
		PromotedPatterns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devmatrix",
			Subsystem: "patternstore",
			Name:      "promoted_patterns_total",
			Help:      "Total patterns promoted across all runs.",
		}),
	}
}
