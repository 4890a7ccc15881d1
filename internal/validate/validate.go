package validate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

// Runner drives the three static validators concurrently and aggregates
// their results. The validators share no mutable state; each is a pure
// function of the candidate text, so they join cleanly before aggregation.
type Runner struct {
	structural *StructuralValidator
	syntax     *SyntaxValidator
	logic      *LogicValidator
	weights    Weights
}

// NewRunner wires a runner from pipeline configuration. A nil profile uses
// the standard template profile.
func NewRunner(cfg *config.Config, profile *config.ScannerProfile) *Runner {
	if cfg == nil {
		cfg = config.GetDefault()
	}
	return &Runner{
		structural: NewStructuralValidator(profile),
		syntax:     NewSyntaxValidator(cfg.Interpreter),
		logic:      NewLogicValidator(profile),
		weights:    WeightsFromConfig(cfg.Validation),
	}
}

// Validate runs all three layers concurrently and returns the aggregated
// verdict. A layer that fails internally is reported as an
// infrastructure-error result; the aggregator always receives three results.
func (r *Runner) Validate(ctx context.Context, source string, opts Options) model.ComprehensiveValidation {
	var wg sync.WaitGroup
	var structuralRes, syntaxRes, logicRes model.ValidationResult

	run := func(layer model.Layer, target *model.ValidationResult, fn func() model.ValidationResult) {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Str("layer", string(layer)).Interface("panic", rec).Msg("validation layer failed")
				*target = infrastructureResult(layer, fmt.Sprintf("%v", rec))
			}
		}()
		*target = fn()
	}

	wg.Add(3)
	go run(model.LayerStructural, &structuralRes, func() model.ValidationResult {
		return r.structural.Validate(source, opts)
	})
	go run(model.LayerSyntax, &syntaxRes, func() model.ValidationResult {
		return r.syntax.Validate(ctx, source)
	})
	go run(model.LayerLogic, &logicRes, func() model.ValidationResult {
		return r.logic.Validate(source, opts)
	})
	wg.Wait()

	cv := Aggregate(structuralRes, syntaxRes, logicRes, r.weights)
	log.Info().
		Int("overall", cv.OverallScore).
		Str("status", string(cv.Status)).
		Bool("can_deploy", cv.CanDeploy).
		Msg("validation complete")
	return cv
}

// infrastructureResult reports a layer that could not run at all. The issue
// severity is error, not critical: the candidate was never judged.
func infrastructureResult(layer model.Layer, msg string) model.ValidationResult {
	return model.ValidationResult{
		Layer:  layer,
		Score:  0,
		Passed: false,
		Issues: []model.Issue{{
			Severity: model.SeverityError,
			Category: model.CategoryInfrastructure,
			Message:  fmt.Sprintf("could not validate: %s", msg),
		}},
		Timestamp: time.Now(),
	}
}
