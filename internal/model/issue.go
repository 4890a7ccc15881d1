package model

import "time"

// Severity classifies how strongly an issue affects the deploy decision.
// critical blocks deployment regardless of score, error blocks only in
// combination with a low overall score, warning reduces score only, and
// info is recorded without penalty.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for comparisons; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// CategoryInfrastructure marks issues raised because a validation layer could
// not run at all, as opposed to issues found in the candidate itself. Reports
// render these as "could not validate".
const CategoryInfrastructure = "infrastructure"

// Issue is one finding raised by a validation layer. Immutable once created.
type Issue struct {
	Severity   Severity `json:"severity"`
	Category   string   `json:"category"`
	Message    string   `json:"message"`
	Line       int      `json:"line,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Layer identifies one of the three static validators.
type Layer string

const (
	LayerStructural Layer = "structural"
	LayerSyntax     Layer = "syntax"
	LayerLogic      Layer = "logic"
)

// ValidationResult is the outcome of a single validator run. Score starts at
// 100 and has fixed or count-scaled penalties subtracted, clamped to [0,100].
type ValidationResult struct {
	Layer     Layer     `json:"layer"`
	Score     int       `json:"score"`
	Passed    bool      `json:"passed"`
	Issues    []Issue   `json:"issues"`
	Timestamp time.Time `json:"timestamp"`
}

// Status summarizes an aggregate verdict.
type Status string

const (
	StatusExcellent Status = "excellent"
	StatusGood      Status = "good"
	StatusFair      Status = "fair"
	StatusPoor      Status = "poor"
	StatusCritical  Status = "critical"
)

// ComprehensiveValidation combines the three layer results with the weighted
// overall verdict. CanDeploy implies Passed; score alone never implies
// CanDeploy because critical and error issues block independently of score.
type ComprehensiveValidation struct {
	Structural      ValidationResult `json:"structural"`
	Syntax          ValidationResult `json:"syntax"`
	Logic           ValidationResult `json:"logic"`
	OverallScore    int              `json:"overall_score"`
	Passed          bool             `json:"passed"`
	CanDeploy       bool             `json:"can_deploy"`
	Status          Status           `json:"status"`
	Recommendations []string         `json:"recommendations"`
	Timestamp       time.Time        `json:"timestamp"`
}

// AllIssues returns the three layers' issues in layer order.
func (cv *ComprehensiveValidation) AllIssues() []Issue {
	out := make([]Issue, 0, len(cv.Structural.Issues)+len(cv.Syntax.Issues)+len(cv.Logic.Issues))
	out = append(out, cv.Structural.Issues...)
	out = append(out, cv.Syntax.Issues...)
	out = append(out, cv.Logic.Issues...)
	return out
}

// CountSeverities tallies issues per severity.
func CountSeverities(issues []Issue) map[Severity]int {
	counts := make(map[Severity]int, 4)
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	return counts
}

// ClampScore bounds a running score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
