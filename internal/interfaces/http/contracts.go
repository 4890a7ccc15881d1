package http

import (
	"time"

	"github.com/scanguard/scanguard/internal/model"
	"github.com/scanguard/scanguard/internal/persistence"
)

// ErrorResponse is the standard error envelope for every API error.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidateRequest submits one candidate for a full pipeline run. Execution
// comparison only happens when Execute is set and OriginalSource is present.
type ValidateRequest struct {
	Source         string   `json:"source"`
	OriginalSource string   `json:"original_source,omitempty"`
	ScannerType    string   `json:"scanner_type,omitempty"`
	StrictMode     bool     `json:"strict_mode,omitempty"`
	Execute        bool     `json:"execute,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
	Tickers        []string `json:"tickers,omitempty"`
	TimeoutMs      int      `json:"timeout_ms,omitempty"`
}

// FixRequest submits source for auto-remediation without scoring.
type FixRequest struct {
	Source string `json:"source"`
}

// CompareRequest holds two execution payloads for signal-set comparison.
type CompareRequest struct {
	Original  model.ExecutionResult `json:"original"`
	Candidate model.ExecutionResult `json:"candidate"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status          string                   `json:"status"`
	Timestamp       time.Time                `json:"timestamp"`
	Database        *persistence.HealthCheck `json:"database,omitempty"`
	ProgressClients int                      `json:"progress_clients"`
}

// RunsResponse lists stored validation runs.
type RunsResponse struct {
	Runs  []persistence.ValidationRun `json:"runs"`
	Count int                         `json:"count"`
}

// RunDetailResponse is one stored run with its comparison, when any.
type RunDetailResponse struct {
	Run         persistence.ValidationRun   `json:"run"`
	Equivalence *persistence.EquivalenceRun `json:"equivalence,omitempty"`
}
