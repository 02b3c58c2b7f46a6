package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/metrics"
)

func TestNewRecorder_RegistersAgainstGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	rec.PhaseDuration.WithLabelValues("synthesis").Observe(1.5)
	rec.RepairIterations.Add(2)
	rec.TokensConsumed.Add(420)
	rec.RunsTotal.WithLabelValues("success").Inc()
	rec.PromotedPatterns.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["devmatrix_pipeline_phase_duration_seconds"])
	require.True(t, names["devmatrix_repair_iterations_total"])
	require.True(t, names["devmatrix_pipeline_tokens_consumed_total"])
	require.True(t, names["devmatrix_pipeline_runs_total"])
	require.True(t, names["devmatrix_patternstore_promoted_patterns_total"])
}

func TestNewRecorder_RunsTotalLabelsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	rec.RunsTotal.WithLabelValues("success").Inc()
	rec.RunsTotal.WithLabelValues("success").Inc()
	rec.RunsTotal.WithLabelValues("failed").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var runsFamily *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "devmatrix_pipeline_runs_total" {
			runsFamily = f
		}
	}
	require.NotNil(t, runsFamily)
	require.Len(t, runsFamily.GetMetric(), 2)

	totals := map[string]float64{}
	for _, m := range runsFamily.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "status" {
				totals[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 2.0, totals["success"])
	require.Equal(t, 1.0, totals["failed"])
}

func TestNewRecorder_TwoRegistriesDoNotCollide(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()

	require.NotPanics(t, func() {
		metrics.NewRecorder(regA)
		metrics.NewRecorder(regB)
	})
}
