// Package postgres implements the run history repositories on PostgreSQL.
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

const runColumns = `id, created_at, scanner_type, strict_mode, source_hash,
	overall_score, status, passed, can_deploy, rules_applied, duration_ms, result`

// runsRepo implements RunsRepo interface for PostgreSQL
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a new PostgreSQL validation run repository
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Save inserts a completed validation run with its full verdict as JSONB
func (r *runsRepo) Save(ctx context.Context, run persistence.ValidationRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		INSERT INTO validation_runs (id, created_at, scanner_type, strict_mode, source_hash,
			overall_score, status, passed, can_deploy, rules_applied, duration_ms, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.CreatedAt, run.ScannerType, run.StrictMode, run.SourceHash,
		run.OverallScore, run.Status, run.Passed, run.CanDeploy,
		pq.Array(run.RulesApplied), run.DurationMs, resultJSON)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate run: %w", err)
		}
		return fmt.Errorf("failed to insert validation run: %w", err)
	}

	return nil
}

// GetByID retrieves one validation run, nil when absent
func (r *runsRepo) GetByID(ctx context.Context, id string) (*persistence.ValidationRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + runColumns + `
		FROM validation_runs
		WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, query, id)

	run, err := r.scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get validation run: %w", err)
	}

	return run, nil
}

// ListRecent retrieves the newest validation runs, newest first
func (r *runsRepo) ListRecent(ctx context.Context, limit int) ([]persistence.ValidationRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + runColumns + `
		FROM validation_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	return r.scanRuns(rows)
}

// ListBySourceHash retrieves every run of one candidate source, newest first
func (r *runsRepo) ListBySourceHash(ctx context.Context, sourceHash string, limit int) ([]persistence.ValidationRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + runColumns + `
		FROM validation_runs
		WHERE source_hash = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, sourceHash, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs by source hash: %w", err)
	}
	defer rows.Close()

	return r.scanRuns(rows)
}

// CountByStatus returns run counts grouped by verdict status
func (r *runsRepo) CountByStatus(ctx context.Context, since time.Time) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT status, COUNT(*)
		FROM validation_runs
		WHERE created_at >= $1
		GROUP BY status
		ORDER BY status`

	rows, err := r.db.QueryxContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	return counts, nil
}

// Helper methods

func (r *runsRepo) scanRuns(rows *sqlx.Rows) ([]persistence.ValidationRun, error) {
	var runs []persistence.ValidationRun

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

func (r *runsRepo) scanRun(row *sqlx.Row) (*persistence.ValidationRun, error) {
	var run persistence.ValidationRun
	var rules pq.StringArray
	var resultJSON []byte

	err := row.Scan(
		&run.ID, &run.CreatedAt, &run.ScannerType, &run.StrictMode, &run.SourceHash,
		&run.OverallScore, &run.Status, &run.Passed, &run.CanDeploy,
		&rules, &run.DurationMs, &resultJSON)

	if err != nil {
		return nil, err
	}

	run.RulesApplied = []string(rules)
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &run.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return &run, nil
}

func (r *runsRepo) scanRunFromRows(rows *sqlx.Rows) (*persistence.ValidationRun, error) {
	var run persistence.ValidationRun
	var rules pq.StringArray
	var resultJSON []byte

	err := rows.Scan(
		&run.ID, &run.CreatedAt, &run.ScannerType, &run.StrictMode, &run.SourceHash,
		&run.OverallScore, &run.Status, &run.Passed, &run.CanDeploy,
		&rules, &run.DurationMs, &resultJSON)

	if err != nil {
		return nil, err
	}

	run.RulesApplied = []string(rules)
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &run.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return &run, nil
}
