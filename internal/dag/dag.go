// Package dag implements the DAG Builder (C6): given AtomicTasks with
// predecessor ids, it materializes a DAG with topological layer assignment
// and detects cycles via depth-first search (spec §4.6).
package dag

import (
	"fmt"
	"sort"

	"devmatrix.dev/core/internal/domain"
)

// Build materializes a DAG from tasks. On cycle it returns domain.ErrDagCyclic
// wrapped with the offending chain (spec §4.6).
func Build(tasks []domain.AtomicTask) (domain.DAG, error) {
	byID := make(map[string]domain.AtomicTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	if chain := detectCycle(tasks); chain != nil {
		return domain.DAG{}, domain.NewFatalError(domain.ErrorInvariant, fmt.Errorf("%w: %v", domain.ErrDagCyclic, chain))
	}

	layers := make(map[string]int, len(tasks))
	order := topoOrder(tasks)
	for _, id := range order {
		task := byID[id]
		layer := 0
		for _, pred := range task.Predecessors {
			if l, ok := layers[pred]; ok && l+1 > layer {
				layer = l + 1
			}
		}
		layers[id] = layer
	}

	nodes := make(map[string]*domain.DAGNode, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &domain.DAGNode{Task: t, Layer: layers[t.ID]}
	}
	return domain.DAG{Nodes: nodes}, nil
}

// detectCycle runs DFS from every node (sorted for determinism) and returns
// the offending chain if a back-edge is found, nil otherwise.
func detectCycle(tasks []domain.AtomicTask) []string {
	adj := make(map[string][]string, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
		for _, pred := range t.Predecessors {
			adj[pred] = append(adj[pred], t.ID)
		}
	}
	sort.Strings(ids)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var path []string

	var dfs func(string) []string
	dfs = func(n string) []string {
		color[n] = gray
		path = append(path, n)
		neighbors := append([]string{}, adj[n]...)
		sort.Strings(neighbors)
		for _, next := range neighbors {
			if color[next] == gray {
				return append(append([]string{}, path...), next)
			}
			if color[next] == white {
				if chain := dfs(next); chain != nil {
					return chain
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if chain := dfs(id); chain != nil {
				return chain
			}
		}
	}
	return nil
}

// topoOrder returns task ids such that every predecessor precedes its
// dependents. Precondition: the graph is acyclic (checked by the caller).
func topoOrder(tasks []domain.AtomicTask) []string {
	byID := make(map[string]domain.AtomicTask, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(tasks))
	var order []string
	var visit func(string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		task, ok := byID[id]
		if !ok {
			return
		}
		preds := append([]string{}, task.Predecessors...)
		sort.Strings(preds)
		for _, pred := range preds {
			visit(pred)
		}
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}
