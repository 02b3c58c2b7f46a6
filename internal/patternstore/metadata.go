package patternstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"devmatrix.dev/core/internal/domain"
)

// ErrNotFound mirrors the teacher's store.ErrNotFound sentinel.
var ErrNotFound = errors.New("not found")

// MetadataStore is the structured side-table of candidates/patterns (spec
// §4.7/§6 "structured side-table with metadata"), hand-written against
// pgx since sqlc code generation cannot be invoked under the no-toolchain
// constraint (see DESIGN.md).
type MetadataStore interface {
	UpsertCandidate(ctx context.Context, c domain.PatternCandidate) error
	IncrementUsage(ctx context.Context, hash uint64, success bool) error
	Candidate(ctx context.Context, hash uint64) (domain.PatternCandidate, error)
	ListCandidates(ctx context.Context) ([]domain.PatternCandidate, error)
	PromotePattern(ctx context.Context, p domain.Pattern) error
}

type pgMetadataStore struct {
	pool *pgxpool.Pool
}

// NewPGMetadataStore builds a MetadataStore backed by the given pool. The
// caller is responsible for running migrations (core/db/migrations) before
// first use.
func NewPGMetadataStore(pool *pgxpool.Pool) MetadataStore {
	return &pgMetadataStore{pool: pool}
}

func (s *pgMetadataStore) UpsertCandidate(ctx context.Context, c domain.PatternCandidate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pattern_candidates (signature_hash, domain, artifact, precision, recall, usage_count, success_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature_hash) DO UPDATE SET
			artifact = EXCLUDED.artifact,
			precision = EXCLUDED.precision,
			recall = EXCLUDED.recall,
			usage_count = EXCLUDED.usage_count,
			success_count = EXCLUDED.success_count
	`, int64(c.SignatureHash), c.Domain, c.Artifact, c.Metrics.Precision, c.Metrics.Recall, c.UsageCount, c.SuccessCount, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert pattern candidate: %w", err)
	}
	return nil
}

func (s *pgMetadataStore) IncrementUsage(ctx context.Context, hash uint64, success bool) error {
	successDelta := 0
	if success {
		successDelta = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE pattern_candidates
		SET usage_count = usage_count + 1, success_count = success_count + $2
		WHERE signature_hash = $1
	`, int64(hash), successDelta)
	if err != nil {
		return fmt.Errorf("increment pattern candidate usage: %w", err)
	}
	return nil
}

func (s *pgMetadataStore) Candidate(ctx context.Context, hash uint64) (domain.PatternCandidate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT signature_hash, domain, artifact, precision, recall, usage_count, success_count, created_at
		FROM pattern_candidates WHERE signature_hash = $1
	`, int64(hash))

	var c domain.PatternCandidate
	var signatureHash int64
	if err := row.Scan(&signatureHash, &c.Domain, &c.Artifact, &c.Metrics.Precision, &c.Metrics.Recall, &c.UsageCount, &c.SuccessCount, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PatternCandidate{}, ErrNotFound
		}
		return domain.PatternCandidate{}, fmt.Errorf("query pattern candidate: %w", err)
	}
	c.SignatureHash = uint64(signatureHash)
	return c, nil
}

func (s *pgMetadataStore) ListCandidates(ctx context.Context) ([]domain.PatternCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT signature_hash, domain, artifact, precision, recall, usage_count, success_count, created_at
		FROM pattern_candidates
	`)
	if err != nil {
		return nil, fmt.Errorf("list pattern candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.PatternCandidate
	for rows.Next() {
		var c domain.PatternCandidate
		var signatureHash int64
		if err := rows.Scan(&signatureHash, &c.Domain, &c.Artifact, &c.Metrics.Precision, &c.Metrics.Recall, &c.UsageCount, &c.SuccessCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pattern candidate: %w", err)
		}
		c.SignatureHash = uint64(signatureHash)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgMetadataStore) PromotePattern(ctx context.Context, p domain.Pattern) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patterns (signature_hash, domain, artifact, success_rate, usage_count, promoted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature_hash) DO UPDATE SET
			success_rate = EXCLUDED.success_rate,
			usage_count = EXCLUDED.usage_count
	`, int64(p.SignatureHash), p.Domain, p.Artifact, p.SuccessRate, p.UsageCount, orNow(p.PromotedAt))
	if err != nil {
		return fmt.Errorf("promote pattern: %w", err)
	}
	return nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
