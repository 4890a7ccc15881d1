// Package report renders validation and equivalence outcomes as a plain-text
// report with fixed section headers. Output is deterministic: the same inputs
// always produce byte-identical text, so reports diff cleanly across runs.
package report

import (
	"fmt"
	"strings"

	"github.com/scanguard/scanguard/internal/model"
)

// signalListCap bounds the missing/extra listings; the remainder collapses
// into a "+N more" suffix.
const signalListCap = 10

// Generate renders the full report. Comparison is nil when no execution
// phase ran; the validation sections are always present, even when every
// layer failed.
func Generate(validation model.ComprehensiveValidation, comparison *model.EquivalenceComparison) string {
	var sb strings.Builder

	sb.WriteString("SCANGUARD VALIDATION REPORT\n")
	sb.WriteString("===========================\n\n")

	writeOverall(&sb, validation)
	if comparison != nil {
		writeComparison(&sb, *comparison)
	}
	writeIssues(&sb, validation)

	return sb.String()
}

func writeOverall(sb *strings.Builder, v model.ComprehensiveValidation) {
	sb.WriteString("OVERALL RESULT\n")
	sb.WriteString("--------------\n")
	sb.WriteString(fmt.Sprintf("Status:       %s\n", v.Status))
	sb.WriteString(fmt.Sprintf("Score:        %d/100\n", v.OverallScore))
	sb.WriteString(fmt.Sprintf("Passed:       %s\n", yesNo(v.Passed)))
	sb.WriteString(fmt.Sprintf("Deployable:   %s\n\n", yesNo(v.CanDeploy)))

	sb.WriteString("Layers:\n")
	for _, layer := range []model.ValidationResult{v.Structural, v.Syntax, v.Logic} {
		verdict := "pass"
		if !layer.Passed {
			verdict = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("  %-11s %3d/100  %s\n", string(layer.Layer), layer.Score, verdict))
	}
	sb.WriteString("\n")

	if len(v.Recommendations) > 0 {
		sb.WriteString("Recommendations:\n")
		for _, rec := range v.Recommendations {
			sb.WriteString(fmt.Sprintf("  %s\n", rec))
		}
		sb.WriteString("\n")
	}
}

func writeComparison(sb *strings.Builder, cmp model.EquivalenceComparison) {
	verdict := "SIGNALS DIFFER"
	if cmp.SignalsMatch {
		verdict = "EQUIVALENT"
	}

	sb.WriteString("SIGNAL COMPARISON\n")
	sb.WriteString("-----------------\n")
	sb.WriteString(fmt.Sprintf("Original signals:   %d\n", cmp.OriginalCount))
	sb.WriteString(fmt.Sprintf("Candidate signals:  %d\n", cmp.CandidateCount))
	sb.WriteString(fmt.Sprintf("Matching:           %d\n", len(cmp.MatchingSignals)))
	sb.WriteString(fmt.Sprintf("Match rate:         %.1f%%\n", cmp.MatchRatePercent))
	sb.WriteString(fmt.Sprintf("Verdict:            %s\n\n", verdict))

	sb.WriteString("MISSING SIGNALS\n")
	sb.WriteString("---------------\n")
	writeSignalList(sb, cmp.MissingSignals)
	sb.WriteString("\n")

	sb.WriteString("EXTRA SIGNALS\n")
	sb.WriteString("-------------\n")
	writeSignalList(sb, cmp.ExtraSignals)
	sb.WriteString("\n")

	sb.WriteString("PERFORMANCE COMPARISON\n")
	sb.WriteString("----------------------\n")
	sb.WriteString(fmt.Sprintf("Original:   %dms\n", cmp.Performance.OriginalMs))
	sb.WriteString(fmt.Sprintf("Candidate:  %dms\n", cmp.Performance.CandidateMs))
	sb.WriteString(fmt.Sprintf("Delta:      %+dms (%+.1f%%)\n", cmp.Performance.DeltaMs, cmp.Performance.DeltaPercent))
	if cmp.Performance.Observation != "" {
		sb.WriteString(fmt.Sprintf("Note:       %s\n", cmp.Performance.Observation))
	}
	sb.WriteString("\n")
}

func writeSignalList(sb *strings.Builder, signals []model.Signal) {
	if len(signals) == 0 {
		sb.WriteString("  none\n")
		return
	}
	shown := signals
	if len(shown) > signalListCap {
		shown = shown[:signalListCap]
	}
	for _, sig := range shown {
		sb.WriteString(fmt.Sprintf("  - %s %s\n", sig.Ticker, sig.Date))
	}
	if rest := len(signals) - len(shown); rest > 0 {
		sb.WriteString(fmt.Sprintf("  ... +%d more\n", rest))
	}
}

func writeIssues(sb *strings.Builder, v model.ComprehensiveValidation) {
	var errorIssues, warningIssues []model.Issue
	infraCount := 0
	for _, issue := range v.AllIssues() {
		switch issue.Severity {
		case model.SeverityCritical, model.SeverityError:
			errorIssues = append(errorIssues, issue)
			if issue.Category == model.CategoryInfrastructure {
				infraCount++
			}
		default:
			warningIssues = append(warningIssues, issue)
		}
	}

	sb.WriteString("ERRORS\n")
	sb.WriteString("------\n")
	if len(errorIssues) == 0 {
		sb.WriteString("  none\n")
	}
	for _, issue := range errorIssues {
		sb.WriteString(formatIssue(issue))
	}
	if infraCount > 0 {
		sb.WriteString(fmt.Sprintf("\nNote: %d issue(s) above are infrastructure failures; the candidate could not be validated there, which is not the same as being found invalid.\n", infraCount))
	}
	sb.WriteString("\n")

	sb.WriteString("WARNINGS\n")
	sb.WriteString("--------\n")
	if len(warningIssues) == 0 {
		sb.WriteString("  none\n")
	}
	for _, issue := range warningIssues {
		sb.WriteString(formatIssue(issue))
	}
}

func formatIssue(issue model.Issue) string {
	line := fmt.Sprintf("  [%s] %s: %s", issue.Severity, issue.Category, issue.Message)
	if issue.Line > 0 {
		line += fmt.Sprintf(" (line %d)", issue.Line)
	}
	if issue.Suggestion != "" {
		line += fmt.Sprintf("\n      suggestion: %s", issue.Suggestion)
	}
	return line + "\n"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
