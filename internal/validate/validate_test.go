package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

func TestRunnerHonorsSurvivingLayersWhenOneFails(t *testing.T) {
	cfg := config.GetDefault()
	cfg.Interpreter.PythonBin = "scanguard-missing-interpreter"
	runner := NewRunner(cfg, nil)

	cv := runner.Validate(context.Background(), canonicalScanner, Options{ScannerType: ScannerTypeMulti})

	// the broken syntax layer surfaces as infrastructure, never silently dropped
	require.NotEmpty(t, cv.Syntax.Issues)
	assert.Equal(t, model.CategoryInfrastructure, cv.Syntax.Issues[0].Category)

	assert.Equal(t, 100, cv.Structural.Score, "Structural result honored despite syntax failure")
	assert.Equal(t, 100, cv.Logic.Score, "Logic result honored despite syntax failure")

	assert.False(t, cv.CanDeploy, "Infrastructure errors block deployment")
}

func TestRunnerEndToEndWithInterpreter(t *testing.T) {
	requirePython(t)
	runner := NewRunner(config.GetDefault(), nil)

	cv := runner.Validate(context.Background(), canonicalScanner, Options{ScannerType: ScannerTypeMulti})

	assert.Equal(t, 100, cv.OverallScore)
	assert.Equal(t, model.StatusExcellent, cv.Status)
	assert.True(t, cv.CanDeploy)
	assert.True(t, cv.Passed)
	assert.Empty(t, cv.Recommendations)
}

func TestRunnerNilConfigUsesDefaults(t *testing.T) {
	runner := NewRunner(nil, nil)
	require.NotNil(t, runner)
	assert.Equal(t, DefaultWeights(), runner.weights)
}

func TestInfrastructureResultShape(t *testing.T) {
	result := infrastructureResult(model.LayerLogic, "boom")

	assert.Equal(t, model.LayerLogic, result.Layer)
	assert.Equal(t, 0, result.Score)
	assert.False(t, result.Passed)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, model.SeverityError, result.Issues[0].Severity, "A layer that could not run is error, not critical")
	assert.Contains(t, result.Issues[0].Message, "could not validate")
}
