// Package atomizer implements the Atomizer (C5): it splits planner output
// into AtomicTasks bounded by a small line budget and computes each task's
// SemanticSignature. Grounded on other_examples/.../semantic_embeddings.go
// for the embedding/cosine-similarity shape (spec §4.5).
package atomizer

import (
	"context"
	"fmt"
	"strings"

	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/embedcache"
	"devmatrix.dev/core/internal/planner"
)

// SimilarityThreshold is the cosine-similarity bar for "similar" signatures
// (spec §4.5).
const SimilarityThreshold = 0.85

// LineBudget resolves the Open Question from spec §9: per-module-class
// atomic line budgets. Narrow single-purpose tasks (validators, single
// handlers) get the ≤10 LOC budget from the distilled sources; cohesive
// module-level tasks (a full CRUD service file) get a larger budget.
func LineBudget(moduleKind string) int {
	switch moduleKind {
	case "services", "migrations":
		return 80
	default:
		return 10
	}
}

// Atomizer is the C5 contract.
type Atomizer struct {
	Embedder *embedcache.Cache
}

// Atomize splits a Masterplan's PlannedTasks into bounded AtomicTasks with
// SemanticSignatures. Two consecutive atomizations of the same input
// produce identical AtomicTask sets modulo sibling ordering (spec §8
// property 1): the function is a pure mapping over its input, emitting
// tasks in the order of plan.PlannedTasks.
func (a Atomizer) Atomize(ctx context.Context, plan planner.Masterplan) ([]domain.AtomicTask, []domain.SemanticSignature, error) {
	moduleKind := map[string]string{}
	for _, m := range plan.Modules {
		moduleKind[m.Name] = m.Kind
	}

	tasks := make([]domain.AtomicTask, 0, len(plan.PlannedTasks))
	signatures := make([]domain.SemanticSignature, 0, len(plan.PlannedTasks))

	for _, pt := range plan.PlannedTasks {
		kind := moduleKind[pt.Module]
		task := domain.AtomicTask{
			ID:              pt.ID,
			Purpose:         pt.Purpose,
			Inputs:          toTypeMap(pt.Inputs),
			Outputs:         toTypeMap(pt.Outputs),
			Predecessors:    pt.Predecessors,
			SecurityTier:    inferSecurityTier(pt.Purpose),
			PerformanceTier: inferPerformanceTier(pt.Purpose),
			Idempotent:      inferIdempotent(pt.Purpose),
			LineBudget:      LineBudget(kind),
			Status:          domain.TaskPending,
		}
		task.Hash = embedcache.Hash(task.CanonicalProjection())
		tasks = append(tasks, task)

		sig, err := a.signature(ctx, task, inferDomainTag(pt.Module, kind))
		if err != nil {
			return nil, nil, fmt.Errorf("computing signature for task %s: %w", task.ID, err)
		}
		signatures = append(signatures, sig)
	}

	return tasks, signatures, nil
}

func (a Atomizer) signature(ctx context.Context, task domain.AtomicTask, domainTag string) (domain.SemanticSignature, error) {
	sig := domain.SemanticSignature{
		TaskID:  task.ID,
		Purpose: normalizePurpose(task.Purpose),
		Domain:  domainTag,
		Inputs:  task.Inputs,
		Outputs: task.Outputs,
		Hash:    task.Hash,
	}
	if a.Embedder != nil {
		vec, err := a.Embedder.Embed(ctx, task.CanonicalProjection())
		if err != nil {
			return domain.SemanticSignature{}, err
		}
		sig.Embedding = vec
	}
	return sig, nil
}

// Similar reports whether two signatures meet spec §4.5's similarity bar:
// cosine(e1, e2) >= 0.85 AND domain tags agree.
func Similar(a, b domain.SemanticSignature) bool {
	if a.Domain != b.Domain {
		return false
	}
	return embedcache.CosineSimilarity(a.Embedding, b.Embedding) >= SimilarityThreshold
}

func toTypeMap(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = canonicalType(n)
	}
	return out
}

// canonicalType maps a parameter name to a canonical type tag using naming
// conventions, degrading to "string" when nothing more specific applies.
func canonicalType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "_id") || lower == "id":
		return "uuid"
	case strings.Contains(lower, "count") || strings.Contains(lower, "quantity"):
		return "integer"
	case strings.Contains(lower, "at") && (strings.Contains(lower, "created") || strings.Contains(lower, "updated")):
		return "datetime"
	default:
		return "string"
	}
}

func normalizePurpose(purpose string) string {
	return strings.ToLower(strings.TrimSpace(purpose))
}

func inferSecurityTier(purpose string) domain.Tier {
	lower := strings.ToLower(purpose)
	switch {
	case strings.Contains(lower, "auth") || strings.Contains(lower, "payment") || strings.Contains(lower, "credential"):
		return domain.TierHigh
	case strings.Contains(lower, "delete") || strings.Contains(lower, "admin"):
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

func inferPerformanceTier(purpose string) domain.Tier {
	lower := strings.ToLower(purpose)
	switch {
	case strings.Contains(lower, "search") || strings.Contains(lower, "list") || strings.Contains(lower, "bulk"):
		return domain.TierHigh
	default:
		return domain.TierLow
	}
}

func inferIdempotent(purpose string) bool {
	lower := strings.ToLower(purpose)
	return strings.Contains(lower, "get") || strings.Contains(lower, "list") || strings.Contains(lower, "read") || strings.Contains(lower, "put")
}

func inferDomainTag(module, kind string) string {
	if kind != "" {
		return kind
	}
	return module
}
