// Package pipeline orchestrates a full candidate run: static validation,
// auto-remediation, sandboxed execution of both scanners, equivalence
// comparison, and report generation. Stages always run in the same order;
// stages that do not apply are reported as skipped rather than omitted so
// every run shows the same shape.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/data/cache"
	"github.com/scanguard/scanguard/infra/breakers"
	"github.com/scanguard/scanguard/internal/artifacts"
	"github.com/scanguard/scanguard/internal/autofix"
	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/equivalence"
	"github.com/scanguard/scanguard/internal/metrics"
	"github.com/scanguard/scanguard/internal/model"
	"github.com/scanguard/scanguard/internal/persistence"
	"github.com/scanguard/scanguard/internal/progress"
	"github.com/scanguard/scanguard/internal/report"
	"github.com/scanguard/scanguard/internal/sandbox"
	"github.com/scanguard/scanguard/internal/validate"
)

// totalStages is fixed; runs that skip execution still report nine stages.
const totalStages = 9

// Request describes one candidate run.
type Request struct {
	Source         string   `json:"source"`
	OriginalSource string   `json:"original_source,omitempty"`
	ScannerType    string   `json:"scanner_type,omitempty"`
	StrictMode     bool     `json:"strict_mode,omitempty"`
	Execute        bool     `json:"execute,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
	Tickers        []string `json:"tickers,omitempty"`
	TimeoutMs      int      `json:"timeout_ms,omitempty"`

	// Printer overrides the pipeline default for this run; used by the
	// progress stream to fan events out per client.
	Printer progress.Printer `json:"-"`
}

// Result is the complete outcome of one run.
type Result struct {
	RunID         string                         `json:"run_id"`
	Validation    model.ComprehensiveValidation  `json:"validation"`
	PreFix        *model.ComprehensiveValidation `json:"pre_fix_validation,omitempty"`
	RulesApplied  []string                       `json:"rules_applied,omitempty"`
	FixedSource   string                         `json:"fixed_source,omitempty"`
	Original      *model.ExecutionResult         `json:"original_execution,omitempty"`
	Candidate     *model.ExecutionResult         `json:"candidate_execution,omitempty"`
	Comparison    *model.EquivalenceComparison   `json:"comparison,omitempty"`
	Report        string                         `json:"report"`
	ArtifactsPath string                         `json:"artifacts_path,omitempty"`
	Stages        []progress.StageResult         `json:"stages"`
	Success       bool                           `json:"success"`
	FailureReason string                         `json:"failure_reason,omitempty"`
	Duration      time.Duration                  `json:"duration"`
}

// Options selects the collaborators a pipeline runs with. Zero values wire
// sensible defaults; Repository and Artifacts stay off unless provided.
type Options struct {
	Progress   string // "auto", "plain", "json", "none"
	Metrics    *metrics.Registry
	Cache      cache.Cache
	Repository *persistence.Repository
	Artifacts  *artifacts.Writer
}

// Pipeline runs candidates through every stage.
type Pipeline struct {
	cfg       *config.Config
	validator *validate.Runner
	fixer     *autofix.Fixer
	sandbox   *sandbox.Sandbox
	store     cache.Cache
	metrics   *metrics.Registry
	repos     *persistence.Repository
	writer    *artifacts.Writer
	breaker   *breakers.Breaker
	printer   progress.Printer
}

// New builds a pipeline from configuration. The scanner profile is loaded
// from cfg.Validation.ProfilePath when set, otherwise the built-in template
// profile applies.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.GetDefault()
	}

	profile := config.NewProfileWithDefaults()
	if cfg.Validation.ProfilePath != "" {
		loaded, err := config.LoadProfile(cfg.Validation.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load scanner profile: %w", err)
		}
		profile = loaded
	}

	p := &Pipeline{
		cfg:       cfg,
		validator: validate.NewRunner(cfg, profile),
		fixer:     autofix.New(),
		sandbox:   sandbox.New(cfg.Sandbox, cfg.Interpreter),
		store:     opts.Cache,
		metrics:   opts.Metrics,
		repos:     opts.Repository,
		writer:    opts.Artifacts,
		breaker:   breakers.New(breakers.NameSandbox),
	}

	if p.store == nil {
		p.store = cache.NewAuto()
	}
	if p.metrics == nil {
		p.metrics = metrics.NewRegistry()
	}

	switch opts.Progress {
	case "json":
		p.printer = progress.NewJSONPrinter()
	case "plain":
		p.printer = progress.NewPlainPrinter()
	case "none":
		p.printer = progress.NewNopPrinter()
	default:
		p.printer = progress.NewAutoPrinter()
	}

	return p, nil
}

// Metrics exposes the registry the pipeline records into.
func (p *Pipeline) Metrics() *metrics.Registry {
	return p.metrics
}

// Run executes every stage for one candidate. The returned error is non-nil
// only for context cancellation; everything else lands in Result.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	startTime := time.Now()

	printer := req.Printer
	if printer == nil {
		printer = p.printer
	}

	scannerType := req.ScannerType
	if scannerType == "" {
		scannerType = validate.ScannerTypeMulti
	}
	opts := validate.Options{ScannerType: scannerType, StrictMode: req.StrictMode}

	result := &Result{
		RunID:   uuid.New().String(),
		Success: true,
		Stages:  make([]progress.StageResult, 0, totalStages),
	}

	p.metrics.IncrementActiveRuns()
	defer p.metrics.DecrementActiveRuns()

	printer.Start(result.RunID, totalStages)
	log.Info().
		Str("run_id", result.RunID).
		Str("scanner_type", scannerType).
		Bool("strict", req.StrictMode).
		Bool("execute", req.Execute).
		Msg("pipeline run starting")

	// Stage 1: static validation
	p.runStage(printer, result, 1, "Static Validation", metrics.StepValidate, func() (string, error) {
		result.Validation = p.validateSource(ctx, req.Source, opts)
		return fmt.Sprintf("score %d/100 (%s)", result.Validation.OverallScore, result.Validation.Status), nil
	})

	// Stage 2: auto-remediation
	candidateSource := req.Source
	var fix autofix.FixResult
	switch {
	case !p.cfg.Autofix.Enabled:
		p.skipStage(printer, result, 2, "Auto-Remediation", metrics.StepAutofix, "disabled")
	case result.Validation.CanDeploy:
		p.skipStage(printer, result, 2, "Auto-Remediation", metrics.StepAutofix, "not needed")
	default:
		p.runStage(printer, result, 2, "Auto-Remediation", metrics.StepAutofix, func() (string, error) {
			fix = p.fixer.Fix(req.Source)
			if !fix.Changed {
				return "no rules fired", nil
			}
			candidateSource = fix.Source
			result.RulesApplied = fix.Applied
			result.FixedSource = fix.Source
			return "rules: " + strings.Join(fix.Applied, ", "), nil
		})
	}

	// Stage 3: revalidation of the repaired candidate
	if fix.Changed {
		p.runStage(printer, result, 3, "Revalidation", metrics.StepRevalidate, func() (string, error) {
			before := result.Validation
			result.PreFix = &before
			result.Validation = p.validateSource(ctx, candidateSource, opts)
			return fmt.Sprintf("score %d -> %d", before.OverallScore, result.Validation.OverallScore), nil
		})
	} else {
		p.skipStage(printer, result, 3, "Revalidation", metrics.StepRevalidate, "source unchanged")
	}

	if err := p.checkCancelled(ctx, printer, result, startTime); err != nil {
		return result, err
	}

	// Stages 4-6: sandboxed execution and comparison
	if req.Execute {
		p.runStage(printer, result, 4, "Execute Original", metrics.StepExecuteOriginal, func() (string, error) {
			if req.OriginalSource == "" {
				return "", fmt.Errorf("original source is required for execution comparison")
			}
			res, err := p.execute(ctx, req.OriginalSource, req)
			result.Original = &res
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d signals in %dms", len(res.Signals), res.ExecutionTimeMs), nil
		})

		p.runStage(printer, result, 5, "Execute Candidate", metrics.StepExecuteCandidate, func() (string, error) {
			res, err := p.execute(ctx, candidateSource, req)
			result.Candidate = &res
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d signals in %dms", len(res.Signals), res.ExecutionTimeMs), nil
		})

		if bothExecuted(result) {
			p.runStage(printer, result, 6, "Equivalence Comparison", metrics.StepCompare, func() (string, error) {
				cmp := equivalence.Compare(*result.Original, *result.Candidate)
				result.Comparison = &cmp
				p.metrics.EquivalenceMatchRate.Observe(cmp.MatchRatePercent)
				if !cmp.SignalsMatch {
					result.Success = false
					if result.FailureReason == "" {
						result.FailureReason = fmt.Sprintf("signal sets diverge: %d missing, %d extra",
							len(cmp.MissingSignals), len(cmp.ExtraSignals))
					}
				}
				return fmt.Sprintf("match rate %.1f%% (%d/%d)",
					cmp.MatchRatePercent, len(cmp.MatchingSignals), cmp.OriginalCount), nil
			})
		} else {
			p.skipStage(printer, result, 6, "Equivalence Comparison", metrics.StepCompare, "execution incomplete")
		}
	} else {
		p.skipStage(printer, result, 4, "Execute Original", metrics.StepExecuteOriginal, "execution not requested")
		p.skipStage(printer, result, 5, "Execute Candidate", metrics.StepExecuteCandidate, "execution not requested")
		p.skipStage(printer, result, 6, "Equivalence Comparison", metrics.StepCompare, "execution not requested")
	}

	if err := p.checkCancelled(ctx, printer, result, startTime); err != nil {
		return result, err
	}

	// Stage 7: report generation
	p.runStage(printer, result, 7, "Report", metrics.StepReport, func() (string, error) {
		result.Report = report.Generate(result.Validation, result.Comparison)
		return fmt.Sprintf("%d bytes", len(result.Report)), nil
	})

	// Stage 8: artifacts; best effort, never fails the run
	if p.writer != nil && p.cfg.Artifacts.Enabled {
		p.bestEffortStage(printer, result, 8, "Artifacts", func() (string, error) {
			dir, err := p.writer.Write(artifacts.RunArtifacts{
				RunID:        result.RunID,
				ScannerType:  scannerType,
				Validation:   result.Validation,
				RulesApplied: result.RulesApplied,
				FixedSource:  result.FixedSource,
				Comparison:   result.Comparison,
				Report:       result.Report,
			})
			if err != nil {
				return "", err
			}
			result.ArtifactsPath = dir
			return dir, nil
		})
	} else {
		p.skipStage(printer, result, 8, "Artifacts", metrics.StepArtifacts, "disabled")
	}

	// Stage 9: run history; best effort, never fails the run
	if p.repos != nil {
		p.bestEffortStage(printer, result, 9, "Persist", func() (string, error) {
			return p.persist(ctx, req, scannerType, result, time.Since(startTime))
		})
	} else {
		p.skipStage(printer, result, 9, "Persist", metrics.StepPersist, "disabled")
	}

	// Validation verdict decides overall success unless a stage already
	// failed harder.
	if !result.Validation.Passed && result.Success {
		result.Success = false
		result.FailureReason = fmt.Sprintf("validation failed with score %d/100", result.Validation.OverallScore)
	}

	result.Duration = time.Since(startTime)
	printer.Complete(p.summarize(result))

	log.Info().
		Str("run_id", result.RunID).
		Bool("success", result.Success).
		Int("score", result.Validation.OverallScore).
		Dur("duration", result.Duration).
		Msg("pipeline run complete")

	return result, nil
}

// validateSource consults the verdict cache before running the validators.
func (p *Pipeline) validateSource(ctx context.Context, source string, opts validate.Options) model.ComprehensiveValidation {
	key := cache.ValidationKey(source, opts.ScannerType, opts.StrictMode)

	if data, ok := p.store.Get(key); ok {
		var cached model.ComprehensiveValidation
		if err := json.Unmarshal(data, &cached); err == nil {
			p.metrics.RecordCacheHit(metrics.CacheValidation)
			log.Debug().Str("key", key).Msg("validation cache hit")
			return cached
		}
		p.store.Delete(key)
	}
	p.metrics.RecordCacheMiss(metrics.CacheValidation)

	v := p.validator.Validate(ctx, source, opts)
	p.metrics.RecordValidation(v.Structural.Score, v.Syntax.Score, v.Logic.Score,
		v.OverallScore, string(v.Status), v.CanDeploy)

	if data, err := json.Marshal(v); err == nil {
		p.store.Set(key, data, p.cfg.Cache.TTL())
	}
	return v
}

// execute runs one scanner in the sandbox behind the circuit breaker and the
// execution result cache. A returned error means the sandbox path itself is
// unhealthy; scanner-level failures come back inside the ExecutionResult.
func (p *Pipeline) execute(ctx context.Context, source string, req Request) (model.ExecutionResult, error) {
	key := cache.ExecutionKey(source, req.StartDate, req.EndDate, req.Tickers)
	if data, ok := p.store.Get(key); ok {
		var cached model.ExecutionResult
		if err := json.Unmarshal(data, &cached); err == nil {
			p.metrics.RecordCacheHit(metrics.CacheExecution)
			log.Debug().Str("key", key).Msg("execution cache hit")
			return cached, nil
		}
		p.store.Delete(key)
	}
	p.metrics.RecordCacheMiss(metrics.CacheExecution)

	out, err := p.breaker.Execute(func() (any, error) {
		res := p.sandbox.Execute(ctx, source, sandbox.RunConfig{
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
			Tickers:   req.Tickers,
			TimeoutMs: req.TimeoutMs,
		})
		if infrastructureFailure(res) {
			return res, fmt.Errorf("sandbox unavailable: %s", res.Error)
		}
		return res, nil
	})
	if err != nil {
		if res, ok := out.(model.ExecutionResult); ok {
			p.recordExecution(res)
			return res, err
		}
		return model.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	res := out.(model.ExecutionResult)
	p.recordExecution(res)

	if res.Success {
		if data, merr := json.Marshal(res); merr == nil {
			p.store.Set(key, data, p.cfg.Cache.TTL())
		}
		return res, nil
	}
	return res, fmt.Errorf("%s", res.Error)
}

func (p *Pipeline) recordExecution(res model.ExecutionResult) {
	outcome := metrics.ResultSuccess
	switch {
	case res.Success:
	case strings.Contains(res.Error, "timed out"):
		outcome = metrics.ResultTimeout
	default:
		outcome = metrics.ResultError
	}
	p.metrics.RecordSandboxExecution(outcome, time.Duration(res.ExecutionTimeMs)*time.Millisecond)
}

// infrastructureFailure separates sandbox plumbing failures from candidate
// failures. Only the former count against the circuit breaker; a broken
// candidate must never shed load for healthy ones.
func infrastructureFailure(res model.ExecutionResult) bool {
	if res.Success {
		return false
	}
	return strings.HasPrefix(res.Error, "could not create sandbox dir") ||
		strings.HasPrefix(res.Error, "could not materialize candidate")
}

// runStage times one stage, records metrics, and reports it to the printer.
func (p *Pipeline) runStage(printer progress.Printer, result *Result, stage int, name, step string, fn func() (string, error)) {
	timer := p.metrics.StartStepTimer(step)
	start := time.Now()

	detail, err := fn()
	duration := time.Since(start)

	stageResult := progress.StageResult{
		Stage:    stage,
		Name:     name,
		Duration: duration,
		Detail:   detail,
	}

	if err != nil {
		stageResult.Status = progress.StatusFail
		stageResult.Detail = err.Error()
		timer.Stop(metrics.ResultError)
		p.metrics.RecordPipelineError(step, "stage_failure")

		result.Success = false
		if result.FailureReason == "" {
			result.FailureReason = fmt.Sprintf("%s: %s", name, err.Error())
		}
		log.Error().Err(err).Int("stage", stage).Str("name", name).Msg("pipeline stage failed")
	} else {
		stageResult.Status = progress.StatusPass
		timer.Stop(metrics.ResultSuccess)
	}

	result.Stages = append(result.Stages, stageResult)
	printer.Stage(stageResult)
}

// bestEffortStage is runStage for stages whose failure must not fail the run.
func (p *Pipeline) bestEffortStage(printer progress.Printer, result *Result, stage int, name string, fn func() (string, error)) {
	start := time.Now()

	detail, err := fn()
	stageResult := progress.StageResult{
		Stage:    stage,
		Name:     name,
		Duration: time.Since(start),
		Detail:   detail,
		Status:   progress.StatusPass,
	}
	if err != nil {
		stageResult.Status = progress.StatusFail
		stageResult.Detail = err.Error()
		log.Warn().Err(err).Str("name", name).Msg("best-effort stage failed")
	}

	result.Stages = append(result.Stages, stageResult)
	printer.Stage(stageResult)
}

func (p *Pipeline) skipStage(printer progress.Printer, result *Result, stage int, name, step, why string) {
	p.metrics.PipelineSteps.WithLabelValues(step, metrics.ResultSkipped).Inc()

	stageResult := progress.StageResult{
		Stage:  stage,
		Name:   name,
		Status: progress.StatusSkip,
		Detail: why,
	}
	result.Stages = append(result.Stages, stageResult)
	printer.Stage(stageResult)
}

// persist writes the run and any comparison to the repository.
func (p *Pipeline) persist(ctx context.Context, req Request, scannerType string, result *Result, elapsed time.Duration) (string, error) {
	timer := p.metrics.StartStepTimer(metrics.StepPersist)

	run := persistence.ValidationRun{
		ID:           result.RunID,
		CreatedAt:    time.Now().UTC(),
		ScannerType:  scannerType,
		StrictMode:   req.StrictMode,
		SourceHash:   sourceHash(req.Source),
		OverallScore: result.Validation.OverallScore,
		Status:       string(result.Validation.Status),
		Passed:       result.Validation.Passed,
		CanDeploy:    result.Validation.CanDeploy,
		RulesApplied: result.RulesApplied,
		DurationMs:   elapsed.Milliseconds(),
		Result:       result.Validation,
	}
	if err := p.repos.Runs.Save(ctx, run); err != nil {
		timer.Stop(metrics.ResultError)
		p.metrics.RecordPipelineError(metrics.StepPersist, "save_run")
		return "", err
	}

	if result.Comparison != nil {
		eq := persistence.EquivalenceRun{
			ID:               uuid.New().String(),
			RunID:            result.RunID,
			CreatedAt:        time.Now().UTC(),
			SignalsMatch:     result.Comparison.SignalsMatch,
			MatchRatePercent: result.Comparison.MatchRatePercent,
			OriginalCount:    result.Comparison.OriginalCount,
			CandidateCount:   result.Comparison.CandidateCount,
			Comparison:       *result.Comparison,
		}
		if err := p.repos.Equivalence.Save(ctx, eq); err != nil {
			timer.Stop(metrics.ResultError)
			p.metrics.RecordPipelineError(metrics.StepPersist, "save_equivalence")
			return "", err
		}
	}

	timer.Stop(metrics.ResultSuccess)
	return "run " + result.RunID, nil
}

func (p *Pipeline) checkCancelled(ctx context.Context, printer progress.Printer, result *Result, startTime time.Time) error {
	select {
	case <-ctx.Done():
		result.Success = false
		result.FailureReason = "cancelled by timeout or caller"
		result.Duration = time.Since(startTime)
		printer.Complete(p.summarize(result))
		return ctx.Err()
	default:
		return nil
	}
}

func (p *Pipeline) summarize(result *Result) progress.RunSummary {
	completed := 0
	for _, s := range result.Stages {
		if s.Status == progress.StatusPass {
			completed++
		}
	}
	return progress.RunSummary{
		RunID:           result.RunID,
		Success:         result.Success,
		FailureReason:   result.FailureReason,
		OverallScore:    result.Validation.OverallScore,
		Status:          string(result.Validation.Status),
		CanDeploy:       result.Validation.CanDeploy,
		CompletedStages: completed,
		TotalStages:     totalStages,
		TotalDuration:   result.Duration,
		ArtifactsPath:   result.ArtifactsPath,
	}
}

func bothExecuted(result *Result) bool {
	return result.Original != nil && result.Original.Success &&
		result.Candidate != nil && result.Candidate.Success
}

func sourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return fmt.Sprintf("%x", sum)
}
