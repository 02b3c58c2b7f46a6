// Package classifier implements the Requirements Classifier (C3): it
// classifies each Requirement into a domain tag and functional/
// non-functional kind, then builds a requirement-level dependency graph
// (spec §4.3). Grounded on the teacher's internal/planner deterministic
// dispatch-on-event-type shape (internal/planner/planner.go), generalized
// to dispatch-on-requirement-domain.
package classifier

import (
	"log/slog"
	"sort"
	"strings"

	"devmatrix.dev/core/internal/domain"
)

// Edge is a directed dependency edge in the requirement graph, with the
// confidence that justified it (used by cycle-breaking).
type Edge struct {
	From, To   string
	Confidence float64
}

// Graph is the requirement-level dependency graph.
type Graph struct {
	Requirements map[string]domain.Requirement
	Edges        []Edge
}

// Result is C3's contract output.
type Result struct {
	Requirements []domain.Requirement
	Graph        Graph
	BrokenEdges  []Edge // cycle-breaking removals, logged per spec §4.3

	// Accuracy is the fraction of requirements whose (domain, kind) pair
	// exactly matches GroundTruth.Requirements; Precision is the fraction
	// of domain-only matches among requirements ground truth covers. Both
	// are zero when ground truth is nil or empty (spec §4.3).
	Accuracy  float64
	Precision float64
}

var domainKeywords = map[string][]string{
	"authentication": {"login", "auth", "password", "session", "token"},
	"payment":        {"payment", "invoice", "charge", "refund", "billing"},
	"workflow":       {"workflow", "approve", "transition", "state"},
	"search":         {"search", "filter", "query", "index"},
}

var nonFunctionalKeywords = []string{"performance", "latency", "availability", "scalability", "security", "audit"}

// Classify runs C3 over the parsed requirements. When gt carries expected
// requirement classifications, Classify scores its own inferences against
// them and surfaces accuracy/precision on the returned Result (spec §4.3).
func Classify(reqs []domain.Requirement, gt *domain.GroundTruth) Result {
	classified := make([]domain.Requirement, len(reqs))
	for i, r := range reqs {
		classified[i] = r
		if classified[i].Domain == "" {
			classified[i].Domain = inferDomain(r.Text)
		}
		if classified[i].Kind == "" {
			classified[i].Kind = inferKind(r.Text)
		}
	}

	graph := buildGraph(classified)
	broken := breakCycles(&graph)
	for _, e := range broken {
		slog.Warn("classifier broke dependency cycle", "from", e.From, "to", e.To, "confidence", e.Confidence)
	}

	accuracy, precision := scoreAgainstGroundTruth(classified, gt)
	if gt != nil && len(gt.Requirements) > 0 {
		slog.Info("classifier scored against ground truth", "accuracy", accuracy, "precision", precision)
	}

	return Result{Requirements: classified, Graph: graph, BrokenEdges: broken, Accuracy: accuracy, Precision: precision}
}

// scoreAgainstGroundTruth compares each classified requirement's (domain,
// kind) against gt.Requirements, when available. Accuracy is the fraction
// of compared requirements matching on both domain and kind; precision is
// the (looser) fraction matching on domain alone. Both are zero when gt is
// nil or names no requirements in common with reqs.
func scoreAgainstGroundTruth(reqs []domain.Requirement, gt *domain.GroundTruth) (accuracy, precision float64) {
	if gt == nil || len(gt.Requirements) == 0 {
		return 0, 0
	}

	var compared, exactMatches, domainMatches int
	for _, r := range reqs {
		want, ok := gt.Requirements[r.ID]
		if !ok {
			continue
		}
		compared++
		if r.Domain == want.Domain {
			domainMatches++
			if r.Kind == want.Kind {
				exactMatches++
			}
		}
	}
	if compared == 0 {
		return 0, 0
	}
	return float64(exactMatches) / float64(compared), float64(domainMatches) / float64(compared)
}

func inferDomain(text string) string {
	lower := strings.ToLower(text)
	for domainTag, keywords := range domainKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return domainTag
			}
		}
	}
	return "crud"
}

func inferKind(text string) domain.RequirementKind {
	lower := strings.ToLower(text)
	for _, kw := range nonFunctionalKeywords {
		if strings.Contains(lower, kw) {
			return domain.RequirementNonFunctional
		}
	}
	return domain.RequirementFunctional
}

func buildGraph(reqs []domain.Requirement) Graph {
	byID := make(map[string]domain.Requirement, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}
	var edges []Edge
	for _, r := range reqs {
		for _, pred := range r.Predecessors {
			if _, ok := byID[pred]; !ok {
				continue
			}
			edges = append(edges, Edge{From: pred, To: r.ID, Confidence: edgeConfidence(byID[pred], r)})
		}
	}
	return Graph{Requirements: byID, Edges: edges}
}

// edgeConfidence scores an edge by how well-attested the stated
// predecessor relationship is; same-domain edges are considered more
// reliable than cross-domain ones.
func edgeConfidence(from, to domain.Requirement) float64 {
	if from.Domain == to.Domain {
		return 0.9
	}
	return 0.6
}

// breakCycles detects cycles via DFS and removes the lowest-confidence
// edge on each detected cycle until the graph is acyclic (spec §4.3).
func breakCycles(g *Graph) []Edge {
	var broken []Edge
	for {
		cycle := findCycleEdge(*g)
		if cycle == nil {
			return broken
		}
		g.Edges = removeEdge(g.Edges, *cycle)
		broken = append(broken, *cycle)
	}
}

// findCycleEdge runs DFS from every node; on finding a back-edge it returns
// the lowest-confidence edge among the edges forming that cycle.
func findCycleEdge(g Graph) *Edge {
	adj := map[string][]Edge{}
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []Edge

	var dfs func(node string) *Edge
	dfs = func(node string) *Edge {
		color[node] = gray
		for _, e := range adj[node] {
			if color[e.To] == gray {
				// found a cycle; the path plus this closing edge forms it
				cyclePath := append(append([]Edge{}, path...), e)
				return lowestConfidence(cyclePath)
			}
			if color[e.To] == white {
				path = append(path, e)
				if found := dfs(e.To); found != nil {
					return found
				}
				path = path[:len(path)-1]
			}
		}
		color[node] = black
		return nil
	}

	ids := make([]string, 0, len(g.Requirements))
	for id := range g.Requirements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if found := dfs(id); found != nil {
				return found
			}
		}
	}
	return nil
}

func lowestConfidence(edges []Edge) *Edge {
	if len(edges) == 0 {
		return nil
	}
	lowest := edges[0]
	for _, e := range edges[1:] {
		if e.Confidence < lowest.Confidence {
			lowest = e
		}
	}
	return &lowest
}

func removeEdge(edges []Edge, target Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	removed := false
	for _, e := range edges {
		if !removed && e == target {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out
}
