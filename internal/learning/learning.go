// Package learning implements the Learning Promoter (C11): after a
// successful run, it registers a Pattern Store candidate for every
// AtomicTask whose artifact passed validation, then triggers
// promote_candidates. Spec §4.11 names no other visible side effect.
// Grounded on the teacher's internal/model/learning.go + internal/store
// learning-store pattern, generalized to wrap internal/patternstore
// instead of a bespoke learning table.
package learning

import (
	"context"
	"log/slog"

	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/patternstore"
)

// TaskOutcome pairs a synthesized AtomicTask and its semantic signature
// with the artifact source it produced, and whether that artifact passed
// compliance validation.
type TaskOutcome struct {
	Task      domain.AtomicTask
	Signature domain.SemanticSignature
	Artifact  string
	Passed    bool
}

// Promoter is the C11 contract: register candidates, then promote.
type Promoter struct {
	Store *patternstore.Store
}

// New builds a Promoter over the given Pattern Store.
func New(store *patternstore.Store) *Promoter {
	return &Promoter{Store: store}
}

// Promote registers a candidate for every passed outcome using the run's
// overall compliance score as the candidate's precision and its entity
// coverage as recall (the Core has no separate recall signal), then
// triggers promote_candidates. A single candidate registration failure is
// logged and does not abort the pass — learning is best-effort and must
// never fail the run it rides on.
func (p *Promoter) Promote(ctx context.Context, run domain.RunContext, report domain.ComplianceReport, outcomes []TaskOutcome) ([]domain.Pattern, error) {
	metrics := domain.SynthesisMetrics{
		Precision: report.Overall,
		Recall:    report.EntityCoverage,
	}

	for _, outcome := range outcomes {
		if !outcome.Passed {
			continue
		}
		if err := p.Store.RegisterCandidate(ctx, outcome.Signature, outcome.Signature.Domain, outcome.Artifact, metrics); err != nil {
			slog.WarnContext(ctx, "pattern candidate registration failed",
				"run_id", run.RunID, "task_id", outcome.Task.ID, "error", err)
			continue
		}
	}

	promoted, err := p.Store.PromoteCandidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(promoted) > 0 {
		slog.InfoContext(ctx, "patterns promoted", "run_id", run.RunID, "count", len(promoted))
	}
	return promoted, nil
}
