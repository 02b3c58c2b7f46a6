package patternstore

import (
	"context"
	"sort"

	"devmatrix.dev/core/internal/embedcache"
	"devmatrix.dev/core/internal/domain"
)

// InMemoryIndex is a VectorIndex test double (spec §9: "wrapping tests
// with a recorded-fixture harness so property tests can run without live
// calls"), also usable as a local/offline deployment mode.
type InMemoryIndex struct {
	patterns map[uint64]domain.Pattern
}

// NewInMemoryIndex builds an empty in-memory VectorIndex.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{patterns: map[uint64]domain.Pattern{}}
}

func (m *InMemoryIndex) Upsert(ctx context.Context, p domain.Pattern) error {
	m.patterns[p.SignatureHash] = p
	return nil
}

func (m *InMemoryIndex) Search(ctx context.Context, embedding []float32, domainTag string, topK int) ([]domain.PatternHit, error) {
	var hits []domain.PatternHit
	for _, p := range m.patterns {
		if p.Domain != domainTag || p.SuccessRate < 0.95 {
			continue
		}
		score := embedcache.CosineSimilarity(embedding, p.Embedding)
		hits = append(hits, domain.PatternHit{Pattern: p, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
