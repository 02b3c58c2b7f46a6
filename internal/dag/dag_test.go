package dag_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/dag"
	"devmatrix.dev/core/internal/domain"
)

func TestBuild_LayersFixedPoint(t *testing.T) {
	tasks := []domain.AtomicTask{
		{ID: "a"},
		{ID: "b", Predecessors: []string{"a"}},
		{ID: "c", Predecessors: []string{"a"}},
		{ID: "d", Predecessors: []string{"b", "c"}},
	}
	graph, err := dag.Build(tasks)
	require.NoError(t, err)
	require.Equal(t, 0, graph.Nodes["a"].Layer)
	require.Equal(t, 1, graph.Nodes["b"].Layer)
	require.Equal(t, 1, graph.Nodes["c"].Layer)
	require.Equal(t, 2, graph.Nodes["d"].Layer)

	layers := graph.Layers()
	require.Len(t, layers, 3)
	require.ElementsMatch(t, []string{"b", "c"}, layers[1])
}

func TestBuild_CycleDetected(t *testing.T) {
	tasks := []domain.AtomicTask{
		{ID: "a", Predecessors: []string{"c"}},
		{ID: "b", Predecessors: []string{"a"}},
		{ID: "c", Predecessors: []string{"b"}},
	}
	_, err := dag.Build(tasks)
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrDagCyclic)
}

func TestBuild_AcyclicTraversalNeverRevisitsAncestor(t *testing.T) {
	tasks := []domain.AtomicTask{
		{ID: "a"},
		{ID: "b", Predecessors: []string{"a"}},
		{ID: "c", Predecessors: []string{"b"}},
	}
	graph, err := dag.Build(tasks)
	require.NoError(t, err)

	visited := map[string]bool{}
	var visit func(id string, ancestors map[string]bool)
	adj := map[string][]string{}
	for id, n := range graph.Nodes {
		for _, pred := range n.Task.Predecessors {
			adj[pred] = append(adj[pred], id)
		}
	}
	visit = func(id string, ancestors map[string]bool) {
		require.False(t, ancestors[id], "revisited ancestor %s", id)
		visited[id] = true
		next := map[string]bool{id: true}
		for k := range ancestors {
			next[k] = true
		}
		for _, child := range adj[id] {
			visit(child, next)
		}
	}
	visit("a", map[string]bool{})
	require.Len(t, visited, 3)
}
