package patternstore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/patternstore"
)

// fakeMetadataStore is an in-memory MetadataStore double, used so these
// tests exercise Store's orchestration logic without a live Postgres.
type fakeMetadataStore struct {
	mu         sync.Mutex
	candidates map[uint64]domain.PatternCandidate
	promoted   map[uint64]domain.Pattern
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		candidates: map[uint64]domain.PatternCandidate{},
		promoted:   map[uint64]domain.Pattern{},
	}
}

func (f *fakeMetadataStore) UpsertCandidate(_ context.Context, c domain.PatternCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[c.SignatureHash] = c
	return nil
}

func (f *fakeMetadataStore) IncrementUsage(_ context.Context, hash uint64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.candidates[hash]
	c.UsageCount++
	if success {
		c.SuccessCount++
	}
	f.candidates[hash] = c
	return nil
}

func (f *fakeMetadataStore) Candidate(_ context.Context, hash uint64) (domain.PatternCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candidates[hash]
	if !ok {
		return domain.PatternCandidate{}, patternstore.ErrNotFound
	}
	return c, nil
}

func (f *fakeMetadataStore) ListCandidates(_ context.Context) ([]domain.PatternCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PatternCandidate, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeMetadataStore) PromotePattern(_ context.Context, p domain.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted[p.SignatureHash] = p
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func TestRegisterCandidate_IdempotentAccumulatesUsage(t *testing.T) {
	meta := newFakeMetadataStore()
	store := patternstore.New(patternstore.NewInMemoryIndex(), meta, fakeEmbedder{})
	ctx := context.Background()
	sig := domain.SemanticSignature{Hash: 42}
	metrics := domain.SynthesisMetrics{Precision: 0.97, Recall: 0.9}

	require.NoError(t, store.RegisterCandidate(ctx, sig, "billing", "artifact-v1", metrics))
	require.NoError(t, store.RegisterCandidate(ctx, sig, "billing", "artifact-v2", metrics))

	c, err := meta.Candidate(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 2, c.UsageCount)
	require.Equal(t, 2, c.SuccessCount)
	require.Equal(t, "artifact-v2", c.Artifact)
}

func TestRegisterCandidate_BelowPrecisionBarIsIgnored(t *testing.T) {
	meta := newFakeMetadataStore()
	store := patternstore.New(patternstore.NewInMemoryIndex(), meta, fakeEmbedder{})
	ctx := context.Background()
	sig := domain.SemanticSignature{Hash: 7}

	require.NoError(t, store.RegisterCandidate(ctx, sig, "billing", "artifact", domain.SynthesisMetrics{Precision: 0.80}))

	_, err := meta.Candidate(ctx, 7)
	require.ErrorIs(t, err, patternstore.ErrNotFound)
}

// TestPromoteCandidates_MonotonicAfterBarCleared covers spec §8 property 7:
// once a candidate clears the quorum/success-rate bar and is promoted, a
// later regression in its usage outcomes does not un-promote it.
func TestPromoteCandidates_MonotonicAfterBarCleared(t *testing.T) {
	meta := newFakeMetadataStore()
	index := patternstore.NewInMemoryIndex()
	store := patternstore.New(index, meta, fakeEmbedder{})
	ctx := context.Background()
	sig := domain.SemanticSignature{Hash: 99}
	metrics := domain.SynthesisMetrics{Precision: 0.97, Recall: 0.9}

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RegisterCandidate(ctx, sig, "billing", "artifact", metrics))
	}

	promoted, err := store.PromoteCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	require.Equal(t, uint64(99), promoted[0].SignatureHash)

	// A later failed usage drags success rate down, but the pattern stays
	// promoted: promotion is monotonic, never retracted.
	require.NoError(t, store.RecordUsageOutcome(ctx, 99, false))
	promotedAgain, err := store.PromoteCandidates(ctx)
	require.NoError(t, err)
	require.Empty(t, promotedAgain, "candidate now below the success-rate bar should not be promoted again, but must remain promoted")

	hits, err := index.Search(ctx, []float32{1, 0, 0}, "billing", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, uint64(99), hits[0].Pattern.SignatureHash)
}

func TestPromoteCandidates_BelowQuorumNotPromoted(t *testing.T) {
	meta := newFakeMetadataStore()
	store := patternstore.New(patternstore.NewInMemoryIndex(), meta, fakeEmbedder{})
	ctx := context.Background()
	sig := domain.SemanticSignature{Hash: 5}
	metrics := domain.SynthesisMetrics{Precision: 0.99, Recall: 0.95}

	require.NoError(t, store.RegisterCandidate(ctx, sig, "billing", "artifact", metrics))

	promoted, err := store.PromoteCandidates(ctx)
	require.NoError(t, err)
	require.Empty(t, promoted)
}

func TestFindSimilar_FiltersByThresholdAndDomain(t *testing.T) {
	index := patternstore.NewInMemoryIndex()
	meta := newFakeMetadataStore()
	store := patternstore.New(index, meta, fakeEmbedder{})
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, domain.Pattern{
		SignatureHash: 1, Domain: "billing", SuccessRate: 0.97,
		Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, index.Upsert(ctx, domain.Pattern{
		SignatureHash: 2, Domain: "billing", SuccessRate: 0.97,
		Embedding: []float32{0, 1, 0},
	}))

	hits, err := store.FindSimilar(ctx, domain.SemanticSignature{Embedding: []float32{1, 0, 0}}, "billing", 0.85, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, uint64(1), hits[0].Pattern.SignatureHash)
}
