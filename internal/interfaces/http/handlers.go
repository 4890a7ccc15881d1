package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/infra/breakers"
	"github.com/scanguard/scanguard/internal/autofix"
	"github.com/scanguard/scanguard/internal/equivalence"
	"github.com/scanguard/scanguard/internal/metrics"
	"github.com/scanguard/scanguard/internal/persistence"
	"github.com/scanguard/scanguard/internal/pipeline"
)

const (
	// maxBodyBytes bounds request bodies; scanner sources are a few KB.
	maxBodyBytes = 2 << 20

	// validateTimeout covers static validation and autofix only.
	validateTimeout = 2 * time.Minute
	// executeTimeout additionally covers two sandboxed subprocess runs.
	executeTimeout = 12 * time.Minute
)

// Handlers contains all HTTP handlers and their dependencies
type Handlers struct {
	pipe     *pipeline.Pipeline
	fixer    *autofix.Fixer
	repos    *persistence.Repository
	dbHealth persistence.RepositoryHealth
	metrics  *metrics.Registry
	hub      *ProgressHub
}

// NewHandlers creates a new handlers instance. repos and dbHealth may be nil
// when history persistence is disabled.
func NewHandlers(pipe *pipeline.Pipeline, repos *persistence.Repository, dbHealth persistence.RepositoryHealth, m *metrics.Registry) *Handlers {
	if m == nil {
		m = pipe.Metrics()
	}
	return &Handlers{
		pipe:     pipe,
		fixer:    autofix.New(),
		repos:    repos,
		dbHealth: dbHealth,
		metrics:  m,
		hub:      NewProgressHub(m),
	}
}

// Hub exposes the progress hub so callers can fan pipeline events into it.
func (h *Handlers) Hub() *ProgressHub {
	return h.hub
}

// Metrics returns the Prometheus scrape handler.
func (h *Handlers) Metrics() http.Handler {
	return h.metrics.Handler()
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:          "healthy",
		Timestamp:       time.Now().UTC(),
		ProgressClients: h.hub.ClientCount(),
	}

	if h.dbHealth != nil {
		check := h.dbHealth.Health(r.Context())
		resp.Database = &check
		if !check.Healthy {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// Validate handles POST /api/v1/validate, running the full pipeline.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		h.writeError(w, r, http.StatusBadRequest, "source_required", "Request body must include a non-empty source")
		return
	}

	timeout := validateTimeout
	if req.Execute {
		timeout = executeTimeout
	}
	ctx, cancel := contextWithTimeout(r, timeout)
	defer cancel()

	result, err := h.pipe.Run(ctx, pipeline.Request{
		Source:         req.Source,
		OriginalSource: req.OriginalSource,
		ScannerType:    req.ScannerType,
		StrictMode:     req.StrictMode,
		Execute:        req.Execute,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Tickers:        req.Tickers,
		TimeoutMs:      req.TimeoutMs,
		Printer:        h.hub,
	})
	if err != nil {
		h.writeError(w, r, http.StatusGatewayTimeout, "pipeline_cancelled", "Validation run was cancelled before completing")
		return
	}
	if strings.Contains(result.FailureReason, breakers.ErrOpen.Error()) {
		h.writeError(w, r, http.StatusServiceUnavailable, "sandbox_unavailable", "Subprocess execution path is failing; retry later")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Fix handles POST /api/v1/fix, applying rewrite rules without validating.
func (h *Handlers) Fix(w http.ResponseWriter, r *http.Request) {
	var req FixRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		h.writeError(w, r, http.StatusBadRequest, "source_required", "Request body must include a non-empty source")
		return
	}

	h.writeJSON(w, http.StatusOK, h.fixer.Fix(req.Source))
}

// Compare handles POST /api/v1/compare for pre-captured execution results.
func (h *Handlers) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	h.writeJSON(w, http.StatusOK, equivalence.Compare(req.Original, req.Candidate))
}

// Runs handles GET /api/v1/runs
func (h *Handlers) Runs(w http.ResponseWriter, r *http.Request) {
	if h.repos == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "history_disabled", "Run history requires a configured database")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	runs, err := h.repos.Runs.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list runs")
		h.writeError(w, r, http.StatusInternalServerError, "history_error", "Failed to read run history")
		return
	}

	h.writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// RunByID handles GET /api/v1/runs/{id}
func (h *Handlers) RunByID(w http.ResponseWriter, r *http.Request) {
	if h.repos == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "history_disabled", "Run history requires a configured database")
		return
	}

	id := mux.Vars(r)["id"]
	run, err := h.repos.Runs.GetByID(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("run_id", id).Msg("failed to load run")
		h.writeError(w, r, http.StatusInternalServerError, "history_error", "Failed to read run history")
		return
	}
	if run == nil {
		h.writeError(w, r, http.StatusNotFound, "run_not_found", "No validation run with that ID")
		return
	}

	resp := RunDetailResponse{Run: *run}
	eq, err := h.repos.Equivalence.GetByRunID(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("run_id", id).Msg("failed to load equivalence record")
	} else {
		resp.Equivalence = eq
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ProgressStream handles GET /ws/progress websocket upgrades.
func (h *Handlers) ProgressStream(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleConnection(w, r)
}

// NotFound handles unmatched routes with a JSON envelope.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "not_found", "Unknown endpoint")
}

// decodeBody reads a bounded JSON body, writing the error response itself on
// failure. Returns false when the caller should stop.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body exceeds the size limit")
			return false
		}
		h.writeError(w, r, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r),
		Timestamp: time.Now().UTC(),
	})
}

// contextWithTimeout tightens the request context for pipeline work.
func contextWithTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}
