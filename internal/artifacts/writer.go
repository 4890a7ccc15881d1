// Package artifacts writes per-run output bundles under the artifacts
// directory. Each run gets its own timestamped directory holding the plain
// text report, machine-readable JSON, and a markdown summary.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/scanguard/scanguard/internal/model"
)

// RunArtifacts bundles everything worth keeping from one pipeline run.
type RunArtifacts struct {
	RunID        string
	ScannerType  string
	Validation   model.ComprehensiveValidation
	RulesApplied []string
	FixedSource  string
	Comparison   *model.EquivalenceComparison
	Report       string
}

// Writer persists run bundles beneath a base directory.
type Writer struct {
	baseDir string
}

// NewWriter creates a writer rooted at baseDir. The directory is created
// lazily on first write.
func NewWriter(baseDir string) *Writer {
	return &Writer{baseDir: baseDir}
}

// Write stores one run bundle and returns the directory it landed in.
func (w *Writer) Write(run RunArtifacts) (string, error) {
	timestamp := time.Now().UTC().Format("20060102-150405")
	dir := filepath.Join(w.baseDir, fmt.Sprintf("%s_%s", timestamp, shortID(run.RunID)))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "report.txt"), []byte(run.Report), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	result := map[string]interface{}{
		"run_id":       run.RunID,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"scanner_type": run.ScannerType,
		"validation":   run.Validation,
	}
	if len(run.RulesApplied) > 0 {
		result["rules_applied"] = run.RulesApplied
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}

	if run.Comparison != nil {
		data, err := json.MarshalIndent(run.Comparison, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal comparison: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "comparison.json"), data, 0644); err != nil {
			return "", fmt.Errorf("write comparison: %w", err)
		}
	}

	if run.FixedSource != "" {
		if err := os.WriteFile(filepath.Join(dir, "fixed_scanner.py"), []byte(run.FixedSource), 0644); err != nil {
			return "", fmt.Errorf("write fixed source: %w", err)
		}
	}

	summary := w.generateSummary(run)
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(summary), 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	return dir, nil
}

// Prune removes the oldest run directories, keeping the newest keep entries.
// Returns how many directories were removed.
func (w *Writer) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	entries, err := os.ReadDir(w.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read artifacts dir: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) <= keep {
		return 0, nil
	}

	// Directory names start with a UTC timestamp so lexical order is
	// chronological order.
	sort.Strings(dirs)

	removed := 0
	for _, name := range dirs[:len(dirs)-keep] {
		if err := os.RemoveAll(filepath.Join(w.baseDir, name)); err != nil {
			return removed, fmt.Errorf("remove %s: %w", name, err)
		}
		removed++
	}

	return removed, nil
}

// generateSummary renders a human-readable markdown summary of the run.
func (w *Writer) generateSummary(run RunArtifacts) string {
	var sb strings.Builder

	v := run.Validation

	sb.WriteString("# Scanner Validation Summary\n\n")
	sb.WriteString(fmt.Sprintf("**Run ID**: %s\n", run.RunID))
	sb.WriteString(fmt.Sprintf("**Generated**: %s\n", time.Now().UTC().Format(time.RFC3339)))
	if run.ScannerType != "" {
		sb.WriteString(fmt.Sprintf("**Scanner Type**: %s\n", run.ScannerType))
	}
	sb.WriteString(fmt.Sprintf("**Overall Score**: %d/100 (%s)\n", v.OverallScore, v.Status))
	sb.WriteString(fmt.Sprintf("**Passed**: %t | **Deployable**: %t\n\n", v.Passed, v.CanDeploy))

	sb.WriteString("## Layer Scores\n\n")
	sb.WriteString("| Layer | Score | Passed |\n")
	sb.WriteString("|-------|-------|--------|\n")
	sb.WriteString(fmt.Sprintf("| Structural | %d | %t |\n", v.Structural.Score, v.Structural.Passed))
	sb.WriteString(fmt.Sprintf("| Syntax | %d | %t |\n", v.Syntax.Score, v.Syntax.Passed))
	sb.WriteString(fmt.Sprintf("| Logic | %d | %t |\n\n", v.Logic.Score, v.Logic.Passed))

	if len(run.RulesApplied) > 0 {
		sb.WriteString("## Applied Fixes\n\n")
		for _, rule := range run.RulesApplied {
			sb.WriteString(fmt.Sprintf("- %s\n", rule))
		}
		sb.WriteString("\n")
	}

	if run.Comparison != nil {
		c := run.Comparison
		sb.WriteString("## Signal Comparison\n\n")
		sb.WriteString(fmt.Sprintf("**Signals Match**: %t\n", c.SignalsMatch))
		sb.WriteString(fmt.Sprintf("**Match Rate**: %.1f%%\n", c.MatchRatePercent))
		sb.WriteString(fmt.Sprintf("**Original**: %d signals | **Candidate**: %d signals\n", c.OriginalCount, c.CandidateCount))
		sb.WriteString(fmt.Sprintf("**Missing**: %d | **Extra**: %d\n\n", len(c.MissingSignals), len(c.ExtraSignals)))
	}

	if len(v.Recommendations) > 0 {
		sb.WriteString("## Recommendations\n\n")
		for _, rec := range v.Recommendations {
			sb.WriteString(fmt.Sprintf("- %s\n", rec))
		}
	}

	return sb.String()
}

// shortID keeps directory names readable while staying unique enough for
// artifacts retention windows.
func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	if runID == "" {
		return "run"
	}
	return runID
}
