// Package metrics holds the Prometheus registry for the validation pipeline.
// The registry is caller-owned and passed down explicitly; there is no
// process-wide instance, so concurrent pipelines and tests never collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Pipeline step label values.
const (
	StepValidate         = "validate"
	StepAutofix          = "autofix"
	StepRevalidate       = "revalidate"
	StepExecuteOriginal  = "execute_original"
	StepExecuteCandidate = "execute_candidate"
	StepCompare          = "compare"
	StepReport           = "report"
	StepArtifacts        = "artifacts"
	StepPersist          = "persist"
)

// Step result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultTimeout = "timeout"
)

// Cache type label values.
const (
	CacheValidation = "validation"
	CacheExecution  = "execution"
)

// Registry holds all Prometheus metrics for ScanGuard.
type Registry struct {
	registry *prometheus.Registry

	StepDuration   *prometheus.HistogramVec
	PipelineSteps  *prometheus.CounterVec
	PipelineErrors *prometheus.CounterVec

	ValidationScore *prometheus.HistogramVec
	Verdicts        *prometheus.CounterVec
	Deployable      prometheus.Counter

	ActiveRuns prometheus.Gauge
	TotalRuns  prometheus.Counter

	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	SandboxExecutions *prometheus.CounterVec
	SandboxDuration   prometheus.Histogram

	EquivalenceMatchRate prometheus.Histogram
	ProgressClients      prometheus.Gauge
}

// NewRegistry creates an independent metrics registry with all ScanGuard
// collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanguard_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"step", "result"},
		),

		PipelineSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanguard_pipeline_steps_total",
				Help: "Total number of pipeline steps executed",
			},
			[]string{"step", "status"},
		),

		PipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanguard_pipeline_errors_total",
				Help: "Total number of pipeline errors by step",
			},
			[]string{"step", "error_type"},
		),

		ValidationScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanguard_validation_score",
				Help:    "Validation scores by layer, including the weighted overall",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"layer"},
		),

		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanguard_validation_verdicts_total",
				Help: "Total validation verdicts by status",
			},
			[]string{"status"},
		),

		Deployable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scanguard_deployable_total",
				Help: "Total candidates that cleared the deployment bar",
			},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanguard_active_runs",
				Help: "Number of currently active validation runs",
			},
		),

		TotalRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scanguard_runs_total",
				Help: "Total number of validation runs initiated",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanguard_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanguard_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanguard_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		SandboxExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanguard_sandbox_executions_total",
				Help: "Total sandboxed executions by outcome",
			},
			[]string{"outcome"},
		),

		SandboxDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scanguard_sandbox_duration_seconds",
				Help:    "Wall-clock duration of sandboxed executions",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		EquivalenceMatchRate: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scanguard_equivalence_match_rate",
				Help:    "Signal match rate between original and candidate runs",
				Buckets: []float64{0, 10, 25, 50, 75, 90, 95, 99, 100},
			},
		),

		ProgressClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanguard_progress_clients",
				Help: "Number of connected progress stream clients",
			},
		),
	}

	r.registry.MustRegister(
		r.StepDuration,
		r.PipelineSteps,
		r.PipelineErrors,
		r.ValidationScore,
		r.Verdicts,
		r.Deployable,
		r.ActiveRuns,
		r.TotalRuns,
		r.CacheHitRatio,
		r.CacheHits,
		r.CacheMisses,
		r.SandboxExecutions,
		r.SandboxDuration,
		r.EquivalenceMatchRate,
		r.ProgressClients,
	)

	return r
}

// StepTimer tracks execution time for one pipeline step.
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step.
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		metrics: r,
		step:    step,
		start:   time.Now(),
	}
}

// Stop completes the step timing and records the metric.
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	st.metrics.PipelineSteps.WithLabelValues(st.step, result).Inc()

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("pipeline step completed")
}

// RecordValidation records the outcome of one aggregated validation.
func (r *Registry) RecordValidation(structural, syntax, logic, overall int, status string, canDeploy bool) {
	r.ValidationScore.WithLabelValues("structural").Observe(float64(structural))
	r.ValidationScore.WithLabelValues("syntax").Observe(float64(syntax))
	r.ValidationScore.WithLabelValues("logic").Observe(float64(logic))
	r.ValidationScore.WithLabelValues("overall").Observe(float64(overall))
	r.Verdicts.WithLabelValues(status).Inc()
	if canDeploy {
		r.Deployable.Inc()
	}
}

// RecordCacheHit records a cache hit for the specified cache type.
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio()
}

// RecordSandboxExecution records one sandboxed run.
func (r *Registry) RecordSandboxExecution(outcome string, elapsed time.Duration) {
	r.SandboxExecutions.WithLabelValues(outcome).Inc()
	r.SandboxDuration.Observe(elapsed.Seconds())
}

// RecordPipelineError records a pipeline error.
func (r *Registry) RecordPipelineError(step, errorType string) {
	r.PipelineErrors.WithLabelValues(step, errorType).Inc()
	log.Warn().
		Str("step", step).
		Str("error_type", errorType).
		Msg("pipeline error recorded")
}

// IncrementActiveRuns marks a run as started.
func (r *Registry) IncrementActiveRuns() {
	r.ActiveRuns.Inc()
	r.TotalRuns.Inc()
}

// DecrementActiveRuns marks a run as finished.
func (r *Registry) DecrementActiveRuns() {
	r.ActiveRuns.Dec()
}

// updateCacheHitRatio recomputes the ratio gauge from the per-type counters.
func (r *Registry) updateCacheHitRatio() {
	hitMetric := &io_prometheus_client.Metric{}
	missMetric := &io_prometheus_client.Metric{}

	totalHits := 0.0
	totalMisses := 0.0
	for _, cacheType := range []string{CacheValidation, CacheExecution} {
		if hitCounter, err := r.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := hitCounter.Write(hitMetric); err == nil {
				totalHits += hitMetric.GetCounter().GetValue()
			}
		}
		if missCounter, err := r.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := missCounter.Write(missMetric); err == nil {
				totalMisses += missMetric.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		r.CacheHitRatio.Set(totalHits / total)
	}
}

// Handler returns the HTTP handler exposing this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
