// Package store persists RunContext submissions and their terminal
// RunReport/FileMap to Postgres. CRUD-interface convention grounded on the
// teacher's internal/store/interfaces.go; implementation is hand-written
// pgx against core/db.DB.Pool() rather than sqlc-generated (see DESIGN.md's
// sqlc-drop decision — this schema is small enough, and a generated-code
// step adds a build dependency this exercise can't run).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"devmatrix.dev/core/core/db"
	"devmatrix.dev/core/internal/domain"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunRecord is one row of run history: the submitted context plus whatever
// RunReport/FileMap the pipeline produced (nil until the run finishes).
type RunRecord struct {
	RunID     string
	Status    domain.RunStatus
	Run       domain.RunContext
	Report    *domain.RunReport
	Files     domain.FileMap
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunStore defines the contract for run persistence.
type RunStore interface {
	Create(ctx context.Context, run domain.RunContext) error
	Complete(ctx context.Context, runID string, report domain.RunReport, files domain.FileMap) error
	GetByID(ctx context.Context, runID string) (RunRecord, error)
	ListRecent(ctx context.Context, limit int) ([]RunRecord, error)
}

type pgRunStore struct {
	db *db.DB
}

// NewRunStore builds a Postgres-backed RunStore.
func NewRunStore(database *db.DB) RunStore {
	return &pgRunStore{db: database}
}

func (s *pgRunStore) Create(ctx context.Context, run domain.RunContext) error {
	runJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO runs (run_id, status, run_context, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (run_id) DO NOTHING`,
		run.RunID, domain.RunStatusRunning, runJSON)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *pgRunStore) Complete(ctx context.Context, runID string, report domain.RunReport, files domain.FileMap) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal file map: %w", err)
	}

	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE runs
		SET status = $2, run_report = $3, files = $4, updated_at = now()
		WHERE run_id = $1`,
		runID, report.Status, reportJSON, filesJSON)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRunStore) GetByID(ctx context.Context, runID string) (RunRecord, error) {
	var (
		rec        RunRecord
		runJSON    []byte
		reportJSON []byte
		filesJSON  []byte
	)

	err := s.db.Pool().QueryRow(ctx, `
		SELECT run_id, status, run_context, run_report, files, created_at, updated_at
		FROM runs WHERE run_id = $1`, runID).
		Scan(&rec.RunID, &rec.Status, &runJSON, &reportJSON, &filesJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("query run: %w", err)
	}

	if err := json.Unmarshal(runJSON, &rec.Run); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal run context: %w", err)
	}
	if len(reportJSON) > 0 {
		var report domain.RunReport
		if err := json.Unmarshal(reportJSON, &report); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal run report: %w", err)
		}
		rec.Report = &report
	}
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &rec.Files); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal file map: %w", err)
		}
	}

	return rec, nil
}

func (s *pgRunStore) ListRecent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT run_id, status, run_context, run_report, files, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			runJSON    []byte
			reportJSON []byte
			filesJSON  []byte
		)
		if err := rows.Scan(&rec.RunID, &rec.Status, &runJSON, &reportJSON, &filesJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if err := json.Unmarshal(runJSON, &rec.Run); err != nil {
			return nil, fmt.Errorf("unmarshal run context: %w", err)
		}
		if len(reportJSON) > 0 {
			var report domain.RunReport
			if err := json.Unmarshal(reportJSON, &report); err != nil {
				return nil, fmt.Errorf("unmarshal run report: %w", err)
			}
			rec.Report = &report
		}
		if len(filesJSON) > 0 {
			if err := json.Unmarshal(filesJSON, &rec.Files); err != nil {
				return nil, fmt.Errorf("unmarshal file map: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent runs: %w", err)
	}
	return out, nil
}
