package learning_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/learning"
	"devmatrix.dev/core/internal/patternstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// fakeMeta is an in-memory patternstore.MetadataStore double, mirroring
// internal/patternstore's own test fake so this package's tests don't need
// a live Postgres.
type fakeMeta struct {
	mu         sync.Mutex
	candidates map[uint64]domain.PatternCandidate
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{candidates: map[uint64]domain.PatternCandidate{}}
}

func (f *fakeMeta) UpsertCandidate(_ context.Context, c domain.PatternCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[c.SignatureHash] = c
	return nil
}

func (f *fakeMeta) IncrementUsage(_ context.Context, hash uint64, success bool) error {
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

func (f *fakeMeta) Candidate(_ context.Context, hash uint64) (domain.PatternCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candidates[hash]
	if !ok {
		return domain.PatternCandidate{}, patternstore.ErrNotFound
	}
	return c, nil
}

func (f *fakeMeta) ListCandidates(_ context.Context) ([]domain.PatternCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PatternCandidate, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeMeta) PromotePattern(_ context.Context, p domain.Pattern) error {
	return nil
}

func outcome(id string, hash uint64, passed bool) learning.TaskOutcome {
	return learning.TaskOutcome{
		Task:      domain.AtomicTask{ID: id},
		Signature: domain.SemanticSignature{TaskID: id, Hash: hash, Domain: "billing", Embedding: []float32{1, 0, 0}},
		Artifact:  "package billing\n",
		Passed:    passed,
	}
}

func TestPromote_RegistersPassedOutcomesAndPromotesAfterQuorum(t *testing.T) {
	store := patternstore.New(patternstore.NewInMemoryIndex(), newFakeMeta(), fakeEmbedder{})
	promoter := learning.New(store)
	ctx := context.Background()
	run := domain.RunContext{RunID: "run-1"}
	report := domain.ComplianceReport{Overall: 0.97, EntityCoverage: 0.95}

	// Same task hash registered three separate times (e.g. three runs
	// converging on the same pattern) clears the default quorum of 3.
	outcomes := []learning.TaskOutcome{outcome("t1", 11, true)}
	for i := 0; i < 3; i++ {
		promoted, err := promoter.Promote(ctx, run, report, outcomes)
		require.NoError(t, err)
		if i < 2 {
			require.Empty(t, promoted)
		} else {
			require.Len(t, promoted, 1)
			require.Equal(t, uint64(11), promoted[0].SignatureHash)
		}
	}
}

func TestPromote_SkipsFailedOutcomes(t *testing.T) {
	store := patternstore.New(patternstore.NewInMemoryIndex(), newFakeMeta(), fakeEmbedder{})
	promoter := learning.New(store)
	ctx := context.Background()
	run := domain.RunContext{RunID: "run-2"}
	report := domain.ComplianceReport{Overall: 1.0, EntityCoverage: 1.0}

	outcomes := []learning.TaskOutcome{outcome("failed-task", 22, false)}
	promoted, err := promoter.Promote(ctx, run, report, outcomes)
	require.NoError(t, err)
	require.Empty(t, promoted)
}

func TestPromote_LowOverallScoreNeverRegisters(t *testing.T) {
	store := patternstore.New(patternstore.NewInMemoryIndex(), newFakeMeta(), fakeEmbedder{})
	promoter := learning.New(store)
	ctx := context.Background()
	run := domain.RunContext{RunID: "run-3"}
	report := domain.ComplianceReport{Overall: 0.5, EntityCoverage: 0.5}

	outcomes := []learning.TaskOutcome{outcome("t1", 33, true)}
	for i := 0; i < 3; i++ {
		promoted, err := promoter.Promote(ctx, run, report, outcomes)
		require.NoError(t, err)
		require.Empty(t, promoted, "precision below the promotion bar must never register, let alone promote")
	}
}
