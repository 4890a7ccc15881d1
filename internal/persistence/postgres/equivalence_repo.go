package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/scanguard/scanguard/internal/persistence"
)

const equivalenceColumns = `id, run_id, created_at, signals_match, match_rate_percent,
	original_count, candidate_count, comparison`

// equivalenceRepo implements EquivalenceRepo interface for PostgreSQL
type equivalenceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEquivalenceRepo creates a new PostgreSQL equivalence run repository
func NewEquivalenceRepo(db *sqlx.DB, timeout time.Duration) persistence.EquivalenceRepo {
	return &equivalenceRepo{
		db:      db,
		timeout: timeout,
	}
}

// Save inserts a completed equivalence comparison with its detail as JSONB
func (r *equivalenceRepo) Save(ctx context.Context, run persistence.EquivalenceRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	comparisonJSON, err := json.Marshal(run.Comparison)
	if err != nil {
		return fmt.Errorf("failed to marshal comparison: %w", err)
	}

	query := `
		INSERT INTO equivalence_runs (id, run_id, created_at, signals_match, match_rate_percent,
			original_count, candidate_count, comparison)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.RunID, run.CreatedAt, run.SignalsMatch, run.MatchRatePercent,
		run.OriginalCount, run.CandidateCount, comparisonJSON)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate equivalence run: %w", err)
		}
		return fmt.Errorf("failed to insert equivalence run: %w", err)
	}

	return nil
}

// GetByRunID retrieves the comparison for a validation run, nil when absent
func (r *equivalenceRepo) GetByRunID(ctx context.Context, runID string) (*persistence.EquivalenceRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + equivalenceColumns + `
		FROM equivalence_runs
		WHERE run_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, runID)

	run, err := r.scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get equivalence run: %w", err)
	}

	return run, nil
}

// ListRecent retrieves the newest equivalence runs, newest first
func (r *equivalenceRepo) ListRecent(ctx context.Context, limit int) ([]persistence.EquivalenceRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + equivalenceColumns + `
		FROM equivalence_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent equivalence runs: %w", err)
	}
	defer rows.Close()

	var runs []persistence.EquivalenceRun
	for rows.Next() {
		run, err := r.scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// Helper methods

func (r *equivalenceRepo) scanRun(row *sqlx.Row) (*persistence.EquivalenceRun, error) {
	var run persistence.EquivalenceRun
	var comparisonJSON []byte

	err := row.Scan(
		&run.ID, &run.RunID, &run.CreatedAt, &run.SignalsMatch, &run.MatchRatePercent,
		&run.OriginalCount, &run.CandidateCount, &comparisonJSON)

	if err != nil {
		return nil, err
	}

	if len(comparisonJSON) > 0 {
		if err := json.Unmarshal(comparisonJSON, &run.Comparison); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comparison: %w", err)
		}
	}

	return &run, nil
}

func (r *equivalenceRepo) scanRunFromRows(rows *sqlx.Rows) (*persistence.EquivalenceRun, error) {
	var run persistence.EquivalenceRun
	var comparisonJSON []byte

	err := rows.Scan(
		&run.ID, &run.RunID, &run.CreatedAt, &run.SignalsMatch, &run.MatchRatePercent,
		&run.OriginalCount, &run.CandidateCount, &comparisonJSON)

	if err != nil {
		return nil, err
	}

	if len(comparisonJSON) > 0 {
		if err := json.Unmarshal(comparisonJSON, &run.Comparison); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comparison: %w", err)
		}
	}

	return &run, nil
}
