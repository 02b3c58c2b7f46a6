package repair_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/compliance"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/repair"
)

func TestLoop_ConvergesToFullCoverage(t *testing.T) {
	gt := &domain.GroundTruth{
		EntityNames: []string{"Widget"},
		Endpoints:   []domain.EndpointKey{{Method: domain.MethodGET, Path: "/widgets"}},
		ValidationRules: []domain.ValidationRuleKey{
			{Entity: "Widget", Attribute: "Name", Kind: domain.ValidationPresence},
		},
	}
	files := domain.FileMap{}
	report := compliance.Validate(files, gt)
	require.Less(t, report.Overall, 1.0)

	loop := repair.New(nil)
	run := domain.RunContext{RunID: "run-1", GroundTruth: gt}

	outcome := loop.Run(context.Background(), run, files, report)
	require.Equal(t, "coverage_reached", outcome.StopReason)
	require.InDelta(t, 1.0, outcome.Report.Overall, 0.0001)
	require.Empty(t, outcome.Report.Failures)
}

func TestLoop_PlateauAfterTwoNoImprovementIterations(t *testing.T) {
	// An attribute name containing a dot breaks the
	// "entity.attribute.kind" locator convention, so the deterministic
	// edit can never resolve it; with no fallback engine configured the
	// failure recurs identically every iteration.
	gt := &domain.GroundTruth{
		ValidationRules: []domain.ValidationRuleKey{
			{Entity: "Widget", Attribute: "weird.name", Kind: domain.ValidationPresence},
		},
	}
	files := domain.FileMap{}
	report := compliance.Validate(files, gt)

	loop := repair.New(nil)
	run := domain.RunContext{RunID: "run-2", GroundTruth: gt}

	outcome := loop.Run(context.Background(), run, files, report)
	require.Equal(t, "plateau", outcome.StopReason)
	require.Equal(t, 2, outcome.Iterations)
	require.Equal(t, report.Overall, outcome.Report.Overall)
}

func TestLoop_RespectsIterationCap(t *testing.T) {
	gt := &domain.GroundTruth{
		ValidationRules: []domain.ValidationRuleKey{
			{Entity: "Widget", Attribute: "weird.name", Kind: domain.ValidationPresence},
		},
	}
	files := domain.FileMap{}
	report := compliance.Validate(files, gt)

	loop := repair.New(nil)
	loop.MaxIterations = 1
	run := domain.RunContext{RunID: "run-3", GroundTruth: gt}

	outcome := loop.Run(context.Background(), run, files, report)
	require.Equal(t, 1, outcome.Iterations)
	require.Contains(t, []string{"iteration_cap", "plateau"}, outcome.StopReason)
}

func TestLoop_NoRepairableFailuresStopsImmediately(t *testing.T) {
	files := domain.FileMap{
		"models/broken.go": []byte("not valid go {{{"),
	}
	report := compliance.Validate(files, &domain.GroundTruth{EntityNames: []string{"Widget"}})
	require.Equal(t, domain.FailureImport, report.Failures[0].Kind)

	loop := repair.New(nil)
	run := domain.RunContext{RunID: "run-4", GroundTruth: &domain.GroundTruth{EntityNames: []string{"Widget"}}}

	outcome := loop.Run(context.Background(), run, files, report)
	require.Equal(t, "no_repairable_failures", outcome.StopReason)
	require.Equal(t, 0, outcome.Iterations)
}
