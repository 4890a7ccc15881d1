// Package persistence stores validation and equivalence run history.
// Persistence is optional: the pipeline produces identical results with the
// database disabled, history exists for operators auditing regeneration
// quality over time.
package persistence

import (
	"context"
	"time"

	"github.com/scanguard/scanguard/internal/model"
)

// ValidationRun is one stored pipeline run. Result carries the full verdict
// as JSONB; the scalar columns exist so history queries never unpack JSON.
type ValidationRun struct {
	ID           string                        `json:"id" db:"id"`
	CreatedAt    time.Time                     `json:"created_at" db:"created_at"`
	ScannerType  string                        `json:"scanner_type" db:"scanner_type"`
	StrictMode   bool                          `json:"strict_mode" db:"strict_mode"`
	SourceHash   string                        `json:"source_hash" db:"source_hash"`
	OverallScore int                           `json:"overall_score" db:"overall_score"`
	Status       string                        `json:"status" db:"status"`
	Passed       bool                          `json:"passed" db:"passed"`
	CanDeploy    bool                          `json:"can_deploy" db:"can_deploy"`
	RulesApplied []string                      `json:"rules_applied" db:"rules_applied"`
	DurationMs   int64                         `json:"duration_ms" db:"duration_ms"`
	Result       model.ComprehensiveValidation `json:"result" db:"result"`
}

// EquivalenceRun is one stored signal-set comparison, linked to the
// validation run that triggered it.
type EquivalenceRun struct {
	ID               string                      `json:"id" db:"id"`
	RunID            string                      `json:"run_id" db:"run_id"`
	CreatedAt        time.Time                   `json:"created_at" db:"created_at"`
	SignalsMatch     bool                        `json:"signals_match" db:"signals_match"`
	MatchRatePercent float64                     `json:"match_rate_percent" db:"match_rate_percent"`
	OriginalCount    int                         `json:"original_count" db:"original_count"`
	CandidateCount   int                         `json:"candidate_count" db:"candidate_count"`
	Comparison       model.EquivalenceComparison `json:"comparison" db:"comparison"`
}

// RunsRepo stores validation run history.
type RunsRepo interface {
	// Save inserts one completed run. Run IDs are unique; saving the same
	// run twice is an error.
	Save(ctx context.Context, run ValidationRun) error

	// GetByID retrieves one run, nil when absent.
	GetByID(ctx context.Context, id string) (*ValidationRun, error)

	// ListRecent retrieves the newest runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]ValidationRun, error)

	// ListBySourceHash retrieves every run of one candidate source, newest
	// first, for regeneration-history queries.
	ListBySourceHash(ctx context.Context, sourceHash string, limit int) ([]ValidationRun, error)

	// CountByStatus tallies runs per verdict status since the given time.
	CountByStatus(ctx context.Context, since time.Time) (map[string]int64, error)
}

// EquivalenceRepo stores equivalence comparison history.
type EquivalenceRepo interface {
	// Save inserts one completed comparison.
	Save(ctx context.Context, run EquivalenceRun) error

	// GetByRunID retrieves the comparison for a validation run, nil when
	// that run had no execution phase.
	GetByRunID(ctx context.Context, runID string) (*EquivalenceRun, error)

	// ListRecent retrieves the newest comparisons, newest first.
	ListRecent(ctx context.Context, limit int) ([]EquivalenceRun, error)
}

// Repository aggregates the persistence interfaces.
type Repository struct {
	Runs        RunsRepo
	Equivalence EquivalenceRepo
}

// HealthCheck reports persistence layer health.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	// Health returns current repository health status.
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to the database.
	Ping(ctx context.Context) error

	// Stats returns connection pool statistics.
	Stats(ctx context.Context) map[string]interface{}
}
