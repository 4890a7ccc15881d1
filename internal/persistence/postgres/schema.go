package postgres

// Schema returns the DDL statements for the run history tables. Statements
// are idempotent so startup migration can run unconditionally.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS validation_runs (
			id            TEXT PRIMARY KEY,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			scanner_type  TEXT NOT NULL,
			strict_mode   BOOLEAN NOT NULL DEFAULT false,
			source_hash   TEXT NOT NULL,
			overall_score INTEGER NOT NULL,
			status        TEXT NOT NULL,
			passed        BOOLEAN NOT NULL,
			can_deploy    BOOLEAN NOT NULL,
			rules_applied TEXT[],
			duration_ms   BIGINT NOT NULL DEFAULT 0,
			result        JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_validation_runs_created_at
			ON validation_runs (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_validation_runs_source_hash
			ON validation_runs (source_hash, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS equivalence_runs (
			id                 TEXT PRIMARY KEY,
			run_id             TEXT NOT NULL REFERENCES validation_runs (id),
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			signals_match      BOOLEAN NOT NULL,
			match_rate_percent DOUBLE PRECISION NOT NULL,
			original_count     INTEGER NOT NULL,
			candidate_count    INTEGER NOT NULL,
			comparison         JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equivalence_runs_run_id
			ON equivalence_runs (run_id)`,
	}
}
