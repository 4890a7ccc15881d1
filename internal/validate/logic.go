package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

var (
	featureAssignRe = regexp.MustCompile(`\w+\[['"][A-Za-z_]\w*['"]\]\s*=[^=]`)
	columnRefRe     = regexp.MustCompile(`\[['"]([A-Za-z_]\w*)['"]\]`)
	columnAssignRe  = regexp.MustCompile(`\[['"]([A-Za-z_]\w*)['"]\]\s*=[^=]`)
	containerKeyRe  = regexp.MustCompile(`params\[['"](\w+)['"]\]`)
)

// LogicValidator checks ordering and usage-pattern rules on the candidate
// text. The ordering rule is the heaviest: filtering a feature column before
// computing it silently scans to zero rows at runtime, which no score on the
// other layers would reveal. The column and threshold heuristics are
// best-effort linting with capped impact, never ground truth.
type LogicValidator struct {
	profile *config.ScannerProfile
}

// NewLogicValidator builds a validator for the given profile, falling back
// to the standard template profile when nil.
func NewLogicValidator(profile *config.ScannerProfile) *LogicValidator {
	if profile == nil {
		profile = config.NewProfileWithDefaults()
	}
	return &LogicValidator{profile: profile}
}

// Validate scores the candidate's domain logic. Passed requires score >= 60.
// StrictMode escalates the two noisy heuristics from warning to error.
func (v *LogicValidator) Validate(source string, opts Options) model.ValidationResult {
	score := 100
	var issues []model.Issue

	score, issues = v.checkComputeBeforeFilter(source, score, issues)

	// one-ticker frames have nothing to group
	if opts.ScannerType != ScannerTypeSingle {
		if !strings.Contains(source, "groupby") || !strings.Contains(source, "transform") {
			score -= 20
			issues = append(issues, model.Issue{
				Severity:   model.SeverityError,
				Category:   "grouping",
				Message:    "no grouped transform found; windowed computations will leak across ticker boundaries",
				Suggestion: "wrap rolling computations in df.groupby('ticker')[col].transform(...)",
			})
		}
	}

	heuristicSeverity := model.SeverityWarning
	if opts.StrictMode {
		heuristicSeverity = model.SeverityError
	}

	score, issues = v.checkHardcodedThresholds(source, heuristicSeverity, score, issues)
	score, issues = v.checkUndefinedColumns(source, heuristicSeverity, score, issues)

	if !strings.Contains(source, ".shift(") {
		issues = append(issues, model.Issue{
			Severity: model.SeverityInfo,
			Category: "patterns",
			Message:  "no lag operation (.shift) found; prior-row comparisons may be missing",
		})
	}

	result := model.ValidationResult{
		Layer:     model.LayerLogic,
		Score:     model.ClampScore(score),
		Issues:    issues,
		Timestamp: time.Now(),
	}
	result.Passed = result.Score >= logicPassThreshold

	log.Debug().Int("score", result.Score).Int("issues", len(issues)).Msg("logic validation complete")
	return result
}

// checkComputeBeforeFilter locates the feature method's span and verifies no
// null filter runs textually before the feature assignments it depends on.
func (v *LogicValidator) checkComputeBeforeFilter(source string, score int, issues []model.Issue) (int, []model.Issue) {
	body, startLine, found := methodSpan(source, v.profile.FeatureMethod)
	if !found {
		score -= 30
		issues = append(issues, model.Issue{
			Severity: model.SeverityError,
			Category: "ordering",
			Message:  fmt.Sprintf("no %s() method to inspect for compute-before-filter ordering", v.profile.FeatureMethod),
		})
		return score, issues
	}

	assignLoc := featureAssignRe.FindStringIndex(body)
	if assignLoc == nil {
		score -= 30
		issues = append(issues, model.Issue{
			Severity:   model.SeverityError,
			Category:   "ordering",
			Message:    fmt.Sprintf("%s() assigns no feature columns", v.profile.FeatureMethod),
			Suggestion: "derived columns belong in the feature method, not inline in filters",
			Line:       startLine,
		})
		return score, issues
	}

	filterLoc := strings.Index(body, "dropna(")
	if filterLoc >= 0 && filterLoc < assignLoc[0] {
		score -= 50
		issues = append(issues, model.Issue{
			Severity:   model.SeverityCritical,
			Category:   "ordering",
			Message:    "dropna() runs before the feature assignments it depends on; the scan silently returns zero rows",
			Suggestion: "compute feature columns first, then drop nulls",
			Line:       startLine + strings.Count(body[:filterLoc], "\n"),
		})
	}

	return score, issues
}

func (v *LogicValidator) checkHardcodedThresholds(source string, severity model.Severity, score int, issues []model.Issue) (int, []model.Issue) {
	for _, param := range v.profile.KnownParams {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(param) + `\s*(?:==|!=|[<>]=?)\s*-?\.?\d`)
		loc := re.FindStringIndex(source)
		if loc == nil {
			continue
		}
		score -= 10
		issues = append(issues, model.Issue{
			Severity:   severity,
			Category:   "parameters",
			Message:    fmt.Sprintf("%s compared against a literal instead of read from the parameter container", param),
			Suggestion: fmt.Sprintf("use self.params[%q]", param),
			Line:       lineOf(source, loc[0]),
		})
	}
	return score, issues
}

// checkUndefinedColumns flags bracket-indexed reads that are neither base
// columns, assigned anywhere, nor parameter lookups. Deduction capped at 20
// (2 per unique reference) because dynamically built column names over-flag.
func (v *LogicValidator) checkUndefinedColumns(source string, severity model.Severity, score int, issues []model.Issue) (int, []model.Issue) {
	known := make(map[string]bool, len(v.profile.BaseColumns)+len(v.profile.KnownParams))
	for _, col := range v.profile.BaseColumns {
		known[col] = true
	}
	for _, param := range v.profile.KnownParams {
		known[param] = true
	}
	for _, m := range columnAssignRe.FindAllStringSubmatch(source, -1) {
		known[m[1]] = true
	}
	for _, m := range containerKeyRe.FindAllStringSubmatch(source, -1) {
		known[m[1]] = true
	}

	seen := make(map[string]bool)
	var unknown []string
	for _, m := range columnRefRe.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if known[name] || seen[name] {
			continue
		}
		seen[name] = true
		unknown = append(unknown, name)
	}
	if len(unknown) <= 2 {
		return score, issues
	}

	sort.Strings(unknown)
	deduction := 2 * len(unknown)
	if deduction > 20 {
		deduction = 20
	}
	score -= deduction
	issues = append(issues, model.Issue{
		Severity: severity,
		Category: "columns",
		Message:  fmt.Sprintf("%d column references are neither base columns nor assigned: %s", len(unknown), strings.Join(unknown, ", ")),
	})
	return score, issues
}

// methodSpan returns the text of a method body, its starting line, and
// whether the method exists. The span ends at the first non-blank line at or
// below the def's own indentation.
func methodSpan(source, name string) (string, int, bool) {
	defRe := regexp.MustCompile(`(?m)^([ \t]*)def\s+` + regexp.QuoteMeta(name) + `\s*\(`)
	loc := defRe.FindStringSubmatchIndex(source)
	if loc == nil {
		return "", 0, false
	}
	indent := lineIndent(source[loc[2]:loc[3]])
	startLine := strings.Count(source[:loc[0]], "\n") + 1

	lines := strings.Split(source[loc[0]:], "\n")
	body := []string{lines[0]}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) != "" && lineIndent(line) <= indent {
			break
		}
		body = append(body, line)
	}
	return strings.Join(body, "\n"), startLine, true
}

func lineIndent(line string) int {
	count := 0
	for _, r := range line {
		switch r {
		case ' ':
			count++
		case '\t':
			count += 4
		default:
			return count
		}
	}
	return count
}

func lineOf(source string, offset int) int {
	return strings.Count(source[:offset], "\n") + 1
}
