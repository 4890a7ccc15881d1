package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

func layerResult(layer model.Layer, score int, issues ...model.Issue) model.ValidationResult {
	return model.ValidationResult{Layer: layer, Score: score, Passed: true, Issues: issues}
}

func TestAggregateWeightedScore(t *testing.T) {
	cv := Aggregate(
		layerResult(model.LayerStructural, 91),
		layerResult(model.LayerSyntax, 88),
		layerResult(model.LayerLogic, 77),
		DefaultWeights(),
	)

	// 91*0.4 + 88*0.3 + 77*0.3 = 85.9, rounded
	assert.Equal(t, 86, cv.OverallScore)
	assert.Equal(t, model.StatusGood, cv.Status)
}

func TestAggregateIsDeterministic(t *testing.T) {
	s := layerResult(model.LayerStructural, 73)
	sy := layerResult(model.LayerSyntax, 94)
	l := layerResult(model.LayerLogic, 61)

	first := Aggregate(s, sy, l, DefaultWeights())
	second := Aggregate(s, sy, l, DefaultWeights())

	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.CanDeploy, second.CanDeploy)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}

func TestAggregateScoreSeventyTwoPassesButCannotDeploy(t *testing.T) {
	warning := model.Issue{Severity: model.SeverityWarning, Category: "syntax", Message: "unclosed paren"}

	// 90*0.4 + 80*0.3 + 40*0.3 = 72
	cv := Aggregate(
		layerResult(model.LayerStructural, 90),
		layerResult(model.LayerSyntax, 80, warning),
		layerResult(model.LayerLogic, 40, warning),
		DefaultWeights(),
	)

	assert.Equal(t, 72, cv.OverallScore)
	assert.True(t, cv.Passed, "Zero critical/error issues above the pass line")
	assert.False(t, cv.CanDeploy, "Deployment demands 90, not merely passing")
	assert.Equal(t, model.StatusFair, cv.Status)
}

func TestAggregateCriticalOverridesScore(t *testing.T) {
	critical := model.Issue{Severity: model.SeverityCritical, Category: "structure", Message: "no class"}

	cv := Aggregate(
		layerResult(model.LayerStructural, 100, critical),
		layerResult(model.LayerSyntax, 100),
		layerResult(model.LayerLogic, 100),
		DefaultWeights(),
	)

	assert.Equal(t, 100, cv.OverallScore)
	assert.Equal(t, model.StatusCritical, cv.Status, "Critical issues override numeric status entirely")
	assert.False(t, cv.CanDeploy, "A perfect score with a critical issue must never deploy")
	assert.False(t, cv.Passed)
}

func TestAggregateErrorBlocksDeploymentAtHighScore(t *testing.T) {
	err := model.Issue{Severity: model.SeverityError, Category: "methods", Message: "missing run()"}

	cv := Aggregate(
		layerResult(model.LayerStructural, 95, err),
		layerResult(model.LayerSyntax, 100),
		layerResult(model.LayerLogic, 100),
		DefaultWeights(),
	)

	assert.Equal(t, 98, cv.OverallScore)
	assert.Equal(t, model.StatusExcellent, cv.Status)
	assert.False(t, cv.CanDeploy, "Errors block deployment regardless of score")
	assert.True(t, cv.Passed)
}

func TestAggregateRecommendations(t *testing.T) {
	warn := func(msg string) model.Issue {
		return model.Issue{Severity: model.SeverityWarning, Category: "syntax", Message: msg}
	}
	critical := model.Issue{Severity: model.SeverityCritical, Category: "ordering", Message: "dropna first"}

	cv := Aggregate(
		layerResult(model.LayerStructural, 100),
		layerResult(model.LayerSyntax, 94, warn("a"), warn("b"), warn("c")),
		layerResult(model.LayerLogic, 50, critical),
		DefaultWeights(),
	)

	require.Len(t, cv.Recommendations, 3)
	assert.Contains(t, cv.Recommendations[0], "1 critical issue")
	assert.Contains(t, cv.Recommendations[1], "3 warning(s)")
	assert.Contains(t, cv.Recommendations[2], `category "syntax"`)
}

func TestWeightsFromConfig(t *testing.T) {
	valid := config.ValidationConfig{StructuralWeight: 0.5, SyntaxWeight: 0.25, LogicWeight: 0.25}
	w := WeightsFromConfig(valid)
	assert.Equal(t, 0.5, w.Structural)

	broken := config.ValidationConfig{StructuralWeight: 0.9, SyntaxWeight: 0.9, LogicWeight: 0.9}
	w = WeightsFromConfig(broken)
	assert.Equal(t, DefaultWeights(), w, "Nonsense weights fall back to the normative split")
}
