package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

// Scanner types accepted by the validators. Single-ticker scanners fetch one
// symbol at a time; multi scanners operate on one frame for the whole universe.
const (
	ScannerTypeSingle = "single"
	ScannerTypeMulti  = "multi"
)

// Options parameterize a validation run.
type Options struct {
	ScannerType string
	StrictMode  bool
}

// Layer pass thresholds.
const (
	structuralPassThreshold = 70
	syntaxPassThreshold     = 80
	logicPassThreshold      = 60
)

var (
	classRe = regexp.MustCompile(`(?m)^class\s+([A-Za-z_]\w*)`)
	initRe  = regexp.MustCompile(`def\s+__init__\s*\(([^)]*)\)`)
)

// StructuralValidator inspects candidate text for the scaffolding every
// generated scanner must carry. Pure text analysis; never executes anything.
type StructuralValidator struct {
	profile *config.ScannerProfile
}

// NewStructuralValidator builds a validator for the given profile, falling
// back to the standard template profile when nil.
func NewStructuralValidator(profile *config.ScannerProfile) *StructuralValidator {
	if profile == nil {
		profile = config.NewProfileWithDefaults()
	}
	return &StructuralValidator{profile: profile}
}

// Validate scores the candidate's scaffolding. Passed requires score >= 70.
func (v *StructuralValidator) Validate(source string, opts Options) model.ValidationResult {
	score := 100
	var issues []model.Issue

	for _, imp := range v.profile.RequiredImports {
		if !hasImport(source, imp) {
			score -= 10
			issues = append(issues, model.Issue{
				Severity:   model.SeverityError,
				Category:   "imports",
				Message:    fmt.Sprintf("missing required import %q", imp),
				Suggestion: fmt.Sprintf("add `import %s` at the top of the file", imp),
			})
		}
	}

	if !classRe.MatchString(source) {
		score -= 30
		issues = append(issues, model.Issue{
			Severity:   model.SeverityCritical,
			Category:   "structure",
			Message:    "no top-level class definition found",
			Suggestion: "wrap the scanner logic in a class with the standard method set",
		})
	}

	score, issues = v.checkInitializer(source, score, issues)

	for _, method := range v.profile.RequiredMethods {
		if !hasMethod(source, method) {
			score -= 10
			issues = append(issues, model.Issue{
				Severity: model.SeverityError,
				Category: "methods",
				Message:  fmt.Sprintf("missing required method %s()", method),
			})
		}
	}

	if !v.hasParamsContainer(source) {
		score -= 15
		issues = append(issues, model.Issue{
			Severity:   model.SeverityError,
			Category:   "parameters",
			Message:    fmt.Sprintf("no %s container found", v.profile.ParamsContainer),
			Suggestion: fmt.Sprintf("collect tunable thresholds into %s in the constructor", v.profile.ParamsContainer),
		})
	}

	if opts.ScannerType == ScannerTypeSingle && !v.hasSingleEvidence(source) {
		score -= 15
		issues = append(issues, model.Issue{
			Severity:   model.SeverityWarning,
			Category:   "concurrency",
			Message:    "single-ticker scanner shows no parallel per-ticker fetching",
			Suggestion: "fetch tickers through concurrent.futures.ThreadPoolExecutor",
		})
	}

	result := model.ValidationResult{
		Layer:     model.LayerStructural,
		Score:     model.ClampScore(score),
		Issues:    issues,
		Timestamp: time.Now(),
	}
	result.Passed = result.Score >= structuralPassThreshold

	log.Debug().Int("score", result.Score).Int("issues", len(issues)).Msg("structural validation complete")
	return result
}

// checkInitializer verifies the constructor accepts the date-range parameters
// and stores every accepted parameter on the instance.
func (v *StructuralValidator) checkInitializer(source string, score int, issues []model.Issue) (int, []model.Issue) {
	match := initRe.FindStringSubmatch(source)
	if match == nil {
		score -= 10 * len(v.profile.DateParams)
		issues = append(issues, model.Issue{
			Severity:   model.SeverityCritical,
			Category:   "initializer",
			Message:    "no __init__ constructor found; date-range parameters cannot be accepted",
			Suggestion: fmt.Sprintf("define __init__(self, tickers, %s)", strings.Join(v.profile.DateParams, ", ")),
		})
		return score, issues
	}

	params := parseParams(match[1])
	accepted := make(map[string]bool, len(params))
	for _, p := range params {
		accepted[p] = true
	}

	var missingDates []string
	for _, dateParam := range v.profile.DateParams {
		if !accepted[dateParam] {
			missingDates = append(missingDates, dateParam)
		}
	}
	if len(missingDates) > 0 {
		score -= 10 * len(missingDates)
		issues = append(issues, model.Issue{
			Severity:   model.SeverityCritical,
			Category:   "initializer",
			Message:    fmt.Sprintf("constructor does not accept date-range parameter(s): %s", strings.Join(missingDates, ", ")),
			Suggestion: "every scanner takes the scan window as constructor parameters",
		})
	}

	for _, p := range params {
		if !storesParam(source, p) {
			score -= 10
			issues = append(issues, model.Issue{
				Severity:   model.SeverityError,
				Category:   "initializer",
				Message:    fmt.Sprintf("constructor parameter %q is accepted but never stored", p),
				Suggestion: fmt.Sprintf("assign self.%s = %s in __init__", p, p),
			})
		}
	}

	return score, issues
}

func (v *StructuralValidator) hasParamsContainer(source string) bool {
	container := regexp.QuoteMeta(v.profile.ParamsContainer)
	re := regexp.MustCompile(container + `\s*[=\[]`)
	return re.MatchString(source)
}

func (v *StructuralValidator) hasSingleEvidence(source string) bool {
	for _, marker := range v.profile.SingleEvidence {
		if strings.Contains(source, marker) {
			return true
		}
	}
	return false
}

func hasImport(source, module string) bool {
	re := regexp.MustCompile(`(?m)^\s*(?:import|from)\s+` + regexp.QuoteMeta(module) + `\b`)
	return re.MatchString(source)
}

func hasMethod(source, name string) bool {
	re := regexp.MustCompile(`def\s+` + regexp.QuoteMeta(name) + `\s*\(`)
	return re.MatchString(source)
}

// storesParam reports whether a constructor parameter lands on the instance,
// either as a direct field or as a key inside the parameter container.
func storesParam(source, param string) bool {
	quoted := regexp.QuoteMeta(param)
	fieldRe := regexp.MustCompile(`self\.` + quoted + `\s*=`)
	if fieldRe.MatchString(source) {
		return true
	}
	keyRe := regexp.MustCompile(`['"]` + quoted + `['"]\s*:`)
	return keyRe.MatchString(source)
}

// parseParams splits a def signature parameter list, dropping self, varargs,
// defaults, and annotations.
func parseParams(raw string) []string {
	var params []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = strings.TrimSpace(name[:i])
		}
		if i := strings.IndexByte(name, ':'); i >= 0 {
			name = strings.TrimSpace(name[:i])
		}
		if name == "self" || strings.HasPrefix(name, "*") {
			continue
		}
		params = append(params, name)
	}
	return params
}
