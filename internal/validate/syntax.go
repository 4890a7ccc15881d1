package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

const compileOutputLimit = 400

// SyntaxValidator delegates parse validity to the external interpreter's
// compile-only mode and augments it with line-level danger heuristics. The
// interpreter call is the only blocking operation; it carries a hard timeout.
type SyntaxValidator struct {
	bin     string
	timeout time.Duration
}

// NewSyntaxValidator builds a validator from interpreter configuration.
func NewSyntaxValidator(cfg config.InterpreterConfig) *SyntaxValidator {
	bin := cfg.PythonBin
	if bin == "" {
		bin = "python3"
	}
	timeout := cfg.CompileTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SyntaxValidator{bin: bin, timeout: timeout}
}

// Validate runs the compile check plus heuristics. A compile failure or
// interpreter timeout is critical and forces the score to 0; an unavailable
// interpreter is an infrastructure error, not a verdict on the candidate.
// Passed requires score >= 80.
func (v *SyntaxValidator) Validate(ctx context.Context, source string) model.ValidationResult {
	score := 100
	issues := scanLineHeuristics(source)
	score -= 2 * len(issues)

	if compileIssue := v.compileCheck(ctx, source); compileIssue != nil {
		issues = append(issues, *compileIssue)
		if compileIssue.Severity == model.SeverityCritical {
			score = 0
		} else {
			score -= 30
		}
	}

	result := model.ValidationResult{
		Layer:     model.LayerSyntax,
		Score:     model.ClampScore(score),
		Issues:    issues,
		Timestamp: time.Now(),
	}
	result.Passed = result.Score >= syntaxPassThreshold

	log.Debug().Int("score", result.Score).Int("issues", len(issues)).Msg("syntax validation complete")
	return result
}

// compileCheck writes the candidate to a scoped temp file and invokes the
// interpreter in compile-only mode. The temp scope is removed on every path.
func (v *SyntaxValidator) compileCheck(ctx context.Context, source string) *model.Issue {
	dir, err := os.MkdirTemp("", "scanguard_syntax_")
	if err != nil {
		return &model.Issue{
			Severity: model.SeverityError,
			Category: model.CategoryInfrastructure,
			Message:  fmt.Sprintf("could not validate syntax: temp scope unavailable: %v", err),
		}
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "candidate.py")
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		return &model.Issue{
			Severity: model.SeverityError,
			Category: model.CategoryInfrastructure,
			Message:  fmt.Sprintf("could not validate syntax: write failed: %v", err),
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, v.bin, "-m", "py_compile", path)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if checkCtx.Err() == context.DeadlineExceeded {
		return &model.Issue{
			Severity: model.SeverityCritical,
			Category: "syntax",
			Message:  fmt.Sprintf("syntax check timed out after %s", v.timeout),
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &model.Issue{
			Severity:   model.SeverityCritical,
			Category:   "syntax",
			Message:    fmt.Sprintf("interpreter rejected the candidate: %s", excerpt(output)),
			Suggestion: "the candidate does not parse; regenerate before any further checks",
		}
	}

	// spawn failure: the candidate was never judged
	return &model.Issue{
		Severity: model.SeverityError,
		Category: model.CategoryInfrastructure,
		Message:  fmt.Sprintf("could not validate syntax: interpreter %q unavailable: %v", v.bin, err),
	}
}

// scanLineHeuristics flags four per-line danger patterns at 2 points each:
// a trailing colon outside a block header and an unclosed paren, bracket, or
// brace at end of line. Lossy on legitimate multi-line expressions; warnings
// only.
func scanLineHeuristics(source string) []model.Issue {
	var issues []model.Issue
	for i, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lineNo := i + 1

		if strings.HasSuffix(trimmed, ":") && !isBlockHeader(trimmed) {
			issues = append(issues, model.Issue{
				Severity: model.SeverityWarning,
				Category: "syntax",
				Message:  "trailing colon outside a block header",
				Line:     lineNo,
			})
		}

		for _, pair := range []struct {
			open, close string
			name        string
		}{
			{"(", ")", "paren"},
			{"[", "]", "bracket"},
			{"{", "}", "brace"},
		} {
			if strings.Count(line, pair.open) > strings.Count(line, pair.close) {
				issues = append(issues, model.Issue{
					Severity: model.SeverityWarning,
					Category: "syntax",
					Message:  fmt.Sprintf("unclosed %s at end of line", pair.name),
					Line:     lineNo,
				})
			}
		}
	}
	return issues
}

var blockKeywords = []string{
	"def", "class", "if", "elif", "else", "for", "while",
	"try", "except", "finally", "with", "match", "case",
}

func isBlockHeader(trimmed string) bool {
	for _, kw := range blockKeywords {
		if trimmed == kw+":" || strings.HasPrefix(trimmed, kw+" ") || strings.HasPrefix(trimmed, kw+"(") {
			return true
		}
	}
	return false
}

// excerpt trims interpreter output to a report-friendly size.
func excerpt(output []byte) string {
	text := strings.TrimSpace(string(output))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if len(text) > compileOutputLimit {
		text = text[:compileOutputLimit] + "..."
	}
	return text
}
