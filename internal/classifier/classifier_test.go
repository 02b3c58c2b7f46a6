package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/classifier"
	"devmatrix.dev/core/internal/domain"
)

func TestClassify_InfersDomainAndKind(t *testing.T) {
	reqs := []domain.Requirement{
		{ID: "r1", Text: "Users must log in with a password"},
		{ID: "r2", Text: "The system must maintain 99.9% availability"},
		{ID: "r3", Text: "Support CRUD operations on Widget"},
	}
	result := classifier.Classify(reqs, nil)
	byID := map[string]domain.Requirement{}
	for _, r := range result.Requirements {
		byID[r.ID] = r
	}
	require.Equal(t, "authentication", byID["r1"].Domain)
	require.Equal(t, domain.RequirementNonFunctional, byID["r2"].Kind)
	require.Equal(t, "crud", byID["r3"].Domain)
	require.Equal(t, domain.RequirementFunctional, byID["r3"].Kind)
}

func TestClassify_BreaksCycles(t *testing.T) {
	reqs := []domain.Requirement{
		{ID: "a", Text: "A", Predecessors: []string{"c"}},
		{ID: "b", Text: "B", Predecessors: []string{"a"}},
		{ID: "c", Text: "C", Predecessors: []string{"b"}},
	}
	result := classifier.Classify(reqs, nil)
	require.NotEmpty(t, result.BrokenEdges, "expected a cycle to be detected and broken")

	// Resulting graph must be acyclic.
	seen := map[string]bool{}
	var visit func(id string, stack map[string]bool) bool
	adj := map[string][]string{}
	for _, e := range result.Graph.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	visit = func(id string, stack map[string]bool) bool {
		if stack[id] {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		stack[id] = true
		for _, next := range adj[id] {
			if visit(next, stack) {
				return true
			}
		}
		stack[id] = false
		return false
	}
	for id := range result.Graph.Requirements {
		require.False(t, visit(id, map[string]bool{}), "graph must be acyclic after cycle breaking")
	}
}

func TestClassify_ScoresAccuracyAndPrecisionAgainstGroundTruth(t *testing.T) {
	reqs := []domain.Requirement{
		{ID: "r1", Text: "Users must log in with a password"},                // -> authentication, functional
		{ID: "r2", Text: "The system must maintain 99.9% availability"},      // -> ? , non_functional
		{ID: "r3", Text: "Support CRUD operations on Widget"},                // -> crud, functional
	}
	gt := &domain.GroundTruth{
		Requirements: map[string]domain.RequirementClassification{
			"r1": {Domain: "authentication", Kind: domain.RequirementFunctional}, // exact match
			"r2": {Domain: "authentication", Kind: domain.RequirementNonFunctional}, // domain mismatch
			"r3": {Domain: "crud", Kind: domain.RequirementFunctional},        // exact match
		},
	}

	result := classifier.Classify(reqs, gt)
	require.InDelta(t, 2.0/3.0, result.Accuracy, 1e-9)
	require.InDelta(t, 2.0/3.0, result.Precision, 1e-9)
}

func TestClassify_NoGroundTruthYieldsZeroMetrics(t *testing.T) {
	reqs := []domain.Requirement{{ID: "r1", Text: "Support CRUD operations on Widget"}}
	result := classifier.Classify(reqs, nil)
	require.Zero(t, result.Accuracy)
	require.Zero(t, result.Precision)
}
