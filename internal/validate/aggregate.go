package validate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

// Deploy and status thresholds on the weighted overall score.
const (
	deployScoreThreshold  = 90
	overallPassThreshold  = 70
	statusGoodThreshold   = 75
	statusFairThreshold   = 60
	categoryRecsThreshold = 3
)

// Weights distribute the overall score across the three layers. Must sum
// to 1.
type Weights struct {
	Structural float64
	Syntax     float64
	Logic      float64
}

// DefaultWeights returns the normative 40/30/30 split.
func DefaultWeights() Weights {
	return Weights{Structural: 0.4, Syntax: 0.3, Logic: 0.3}
}

// WeightsFromConfig reads layer weights from configuration, falling back to
// the defaults when the configured weights do not sum to 1.
func WeightsFromConfig(vc config.ValidationConfig) Weights {
	w := Weights{Structural: vc.StructuralWeight, Syntax: vc.SyntaxWeight, Logic: vc.LogicWeight}
	if math.Abs(w.Structural+w.Syntax+w.Logic-1.0) > 0.001 {
		return DefaultWeights()
	}
	return w
}

// Aggregate combines the three layer results into one weighted verdict. Pure
// and order-independent: the same three results always produce the same
// verdict regardless of which validator finished first.
//
// CanDeploy demands score >= 90 AND zero critical AND zero error issues;
// score alone is insufficient so a high-scoring-but-broken candidate can
// never ship. Any critical issue forces Status to critical regardless of
// score.
func Aggregate(structural, syntax, logic model.ValidationResult, weights Weights) model.ComprehensiveValidation {
	overall := int(math.Round(
		float64(structural.Score)*weights.Structural +
			float64(syntax.Score)*weights.Syntax +
			float64(logic.Score)*weights.Logic))
	overall = model.ClampScore(overall)

	cv := model.ComprehensiveValidation{
		Structural:   structural,
		Syntax:       syntax,
		Logic:        logic,
		OverallScore: overall,
		Timestamp:    time.Now(),
	}

	issues := cv.AllIssues()
	counts := model.CountSeverities(issues)

	switch {
	case counts[model.SeverityCritical] > 0:
		cv.Status = model.StatusCritical
	case overall >= deployScoreThreshold:
		cv.Status = model.StatusExcellent
	case overall >= statusGoodThreshold:
		cv.Status = model.StatusGood
	case overall >= statusFairThreshold:
		cv.Status = model.StatusFair
	default:
		cv.Status = model.StatusPoor
	}

	cv.CanDeploy = overall >= deployScoreThreshold &&
		counts[model.SeverityCritical] == 0 &&
		counts[model.SeverityError] == 0
	cv.Passed = overall >= overallPassThreshold && counts[model.SeverityCritical] == 0
	cv.Recommendations = buildRecommendations(counts, issues)

	return cv
}

// buildRecommendations emits one line per severity tier present plus one
// line per category holding three or more issues, in deterministic order.
func buildRecommendations(counts map[model.Severity]int, issues []model.Issue) []string {
	var recs []string

	if n := counts[model.SeverityCritical]; n > 0 {
		recs = append(recs, fmt.Sprintf("🚨 Fix %d critical issue(s) before any deployment", n))
	}
	if n := counts[model.SeverityError]; n > 0 {
		recs = append(recs, fmt.Sprintf("❌ Resolve %d error(s) to make the scanner deployable", n))
	}
	if n := counts[model.SeverityWarning]; n > 0 {
		recs = append(recs, fmt.Sprintf("⚠️ Review %d warning(s) to raise the quality score", n))
	}
	if n := counts[model.SeverityInfo]; n > 0 {
		recs = append(recs, fmt.Sprintf("ℹ️ %d informational note(s) recorded", n))
	}

	categoryCounts := make(map[string]int)
	for _, issue := range issues {
		categoryCounts[issue.Category]++
	}
	categories := make([]string, 0, len(categoryCounts))
	for category, n := range categoryCounts {
		if n >= categoryRecsThreshold {
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)
	for _, category := range categories {
		recs = append(recs, fmt.Sprintf("📋 %d issues share category %q; regenerate that aspect of the scanner", categoryCounts[category], category))
	}

	return recs
}
