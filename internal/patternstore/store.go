// Package patternstore implements the Pattern Store (C7): a two-tier
// memory where successful syntheses first land as PatternCandidates and,
// once they clear a usage quorum and success-rate bar, get promoted into
// Patterns queryable by semantic similarity (spec §4.7/§4.11).
package patternstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"devmatrix.dev/core/internal/domain"
)

// PromotionPolicy tunes when a candidate graduates into a promoted
// Pattern. Defaults match DESIGN.md's Open Question decision #2.
type PromotionPolicy struct {
	Quorum      int
	SuccessRate float64
}

// DefaultPromotionPolicy is quorum=3 usages at success_rate>=0.95.
func DefaultPromotionPolicy() PromotionPolicy {
	return PromotionPolicy{Quorum: 3, SuccessRate: 0.95}
}

// Store is the Pattern Store facade combining the vector index (semantic
// search) with the metadata side-table (candidate bookkeeping and
// promotion state).
type Store struct {
	vectors  VectorIndex
	meta     MetadataStore
	embed    Embedder
	policy   PromotionPolicy
	mu       sync.Mutex
	hashLock map[uint64]*sync.Mutex
}

// Embedder produces the embedding used both as the candidate's semantic
// signature and the vector index key (spec §4.5).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds a Pattern Store over the given vector index and metadata
// store, using the default promotion policy.
func New(vectors VectorIndex, meta MetadataStore, embed Embedder) *Store {
	return &Store{
		vectors:  vectors,
		meta:     meta,
		embed:    embed,
		policy:   DefaultPromotionPolicy(),
		hashLock: make(map[uint64]*sync.Mutex),
	}
}

// WithPromotionPolicy overrides the default quorum/success-rate bar.
func (s *Store) WithPromotionPolicy(p PromotionPolicy) *Store {
	s.policy = p
	return s
}

// FindSimilar returns up to topK promoted patterns matching domainTag
// whose cosine similarity to sig's embedding is at least threshold,
// ranked descending by score (spec §4.5: similarity >= 0.85 AND same
// domain tag defines "similar").
func (s *Store) FindSimilar(ctx context.Context, sig domain.SemanticSignature, domainTag string, threshold float64, topK int) ([]domain.PatternHit, error) {
	hits, err := s.vectors.Search(ctx, sig.Embedding, domainTag, topK)
	if err != nil {
		return nil, fmt.Errorf("search pattern index: %w", err)
	}

	out := make([]domain.PatternHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// RegisterCandidate records the outcome of a synthesis attempt for the
// given signature. A candidate is only accepted into the side-table when
// its precision clears 0.95 (spec §4.7); lower-precision attempts are
// dropped without being recorded. Registration is
// idempotent per signature hash: repeat calls accumulate usage/success
// counts rather than duplicating rows.
func (s *Store) RegisterCandidate(ctx context.Context, sig domain.SemanticSignature, domainTag, artifact string, metrics domain.SynthesisMetrics) error {
	if metrics.Precision < 0.95 {
		return nil
	}

	lock := s.lockFor(sig.Hash)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.meta.Candidate(ctx, sig.Hash)
	switch {
	case err == nil:
		existing.Artifact = artifact
		existing.Metrics = metrics
		existing.UsageCount++
		existing.SuccessCount++
		if err := s.meta.UpsertCandidate(ctx, existing); err != nil {
			return err
		}
	case err == ErrNotFound:
		c := domain.PatternCandidate{
			SignatureHash: sig.Hash,
			Domain:        domainTag,
			Artifact:      artifact,
			Metrics:       metrics,
			UsageCount:    1,
			SuccessCount:  1,
			CreatedAt:     time.Now(),
		}
		if err := s.meta.UpsertCandidate(ctx, c); err != nil {
			return err
		}
	default:
		return fmt.Errorf("lookup pattern candidate: %w", err)
	}
	return nil
}

// RecordUsageOutcome marks a further use of an already-registered
// candidate as successful or failed, without touching its artifact. Used
// when a promoted pattern is reused by a later run (spec §4.11's ongoing
// success-rate tracking).
func (s *Store) RecordUsageOutcome(ctx context.Context, hash uint64, success bool) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()
	return s.meta.IncrementUsage(ctx, hash, success)
}

// PromoteCandidates scans all tracked candidates and promotes every one
// that has reached the quorum of usages at or above the configured
// success rate into the vector-searchable Pattern pool (spec §4.11).
// Promotion is monotonic: a candidate's success rate only needs to clear
// the bar once; later regressions do not un-promote it (property 7).
func (s *Store) PromoteCandidates(ctx context.Context) ([]domain.Pattern, error) {
	candidates, err := s.meta.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pattern candidates: %w", err)
	}

	var promoted []domain.Pattern
	for _, c := range candidates {
		if c.UsageCount < s.policy.Quorum {
			continue
		}
		if c.SuccessRate() < s.policy.SuccessRate {
			continue
		}

		embedding, err := s.embed.Embed(ctx, c.Artifact)
		if err != nil {
			return promoted, fmt.Errorf("embed candidate %d: %w", c.SignatureHash, err)
		}

		p := domain.Pattern{
			SignatureHash: c.SignatureHash,
			Domain:        c.Domain,
			Artifact:      c.Artifact,
			Embedding:     embedding,
			SuccessRate:   c.SuccessRate(),
			UsageCount:    c.UsageCount,
			PromotedAt:    time.Now(),
		}

		lock := s.lockFor(c.SignatureHash)
		lock.Lock()
		err = func() error {
			if err := s.meta.PromotePattern(ctx, p); err != nil {
				return fmt.Errorf("persist promoted pattern %d: %w", c.SignatureHash, err)
			}
			if err := s.vectors.Upsert(ctx, p); err != nil {
				return fmt.Errorf("index promoted pattern %d: %w", c.SignatureHash, err)
			}
			return nil
		}()
		lock.Unlock()
		if err != nil {
			return promoted, err
		}

		promoted = append(promoted, p)
	}
	return promoted, nil
}

func (s *Store) lockFor(hash uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.hashLock[hash]
	if !ok {
		lock = &sync.Mutex{}
		s.hashLock[hash] = lock
	}
	return lock
}
