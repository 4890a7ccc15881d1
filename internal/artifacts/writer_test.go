package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanguard/scanguard/internal/model"
)

func sampleArtifacts() RunArtifacts {
	return RunArtifacts{
		RunID:       "3b241101-e2bb-4255-8caf-4136c566a962",
		ScannerType: "multi",
		Validation: model.ComprehensiveValidation{
			Structural:   model.ValidationResult{Layer: model.LayerStructural, Score: 90, Passed: true},
			Syntax:       model.ValidationResult{Layer: model.LayerSyntax, Score: 100, Passed: true},
			Logic:        model.ValidationResult{Layer: model.LayerLogic, Score: 80, Passed: true},
			OverallScore: 90,
			Passed:       true,
			CanDeploy:    true,
			Status:       model.StatusExcellent,
		},
		RulesApplied: []string{"grouped_rolling_mean"},
		FixedSource:  "import pandas as pd\n",
		Comparison: &model.EquivalenceComparison{
			SignalsMatch:     true,
			OriginalCount:    2,
			CandidateCount:   2,
			MatchRatePercent: 100.0,
		},
		Report: "VALIDATION PASSED\n",
	}
}

func TestWriter_WriteBundle(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(base)

	dir, err := w.Write(sampleArtifacts())
	require.NoError(t, err)
	require.DirExists(t, dir)

	// Directory name carries the short run ID
	assert.Contains(t, filepath.Base(dir), "3b241101")

	report, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "VALIDATION PASSED\n", string(report))

	resultData, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(resultData, &result))
	assert.Equal(t, "3b241101-e2bb-4255-8caf-4136c566a962", result["run_id"])
	assert.Equal(t, "multi", result["scanner_type"])
	assert.Contains(t, result, "validation")
	assert.Contains(t, result, "rules_applied")

	assert.FileExists(t, filepath.Join(dir, "comparison.json"))
	assert.FileExists(t, filepath.Join(dir, "fixed_scanner.py"))

	summary, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "# Scanner Validation Summary")
	assert.Contains(t, string(summary), "**Overall Score**: 90/100 (excellent)")
	assert.Contains(t, string(summary), "grouped_rolling_mean")
	assert.Contains(t, string(summary), "**Match Rate**: 100.0%")
}

func TestWriter_SkipsOptionalFiles(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(base)

	run := sampleArtifacts()
	run.Comparison = nil
	run.FixedSource = ""
	run.RulesApplied = nil

	dir, err := w.Write(run)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "comparison.json"))
	assert.NoFileExists(t, filepath.Join(dir, "fixed_scanner.py"))

	resultData, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(resultData, &result))
	assert.NotContains(t, result, "rules_applied")
}

func TestWriter_Prune(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(base)

	// Lexical order is chronological order for these names
	names := []string{
		"20250601-100000_aaaa",
		"20250601-110000_bbbb",
		"20250601-120000_cccc",
		"20250601-130000_dddd",
	}
	for _, name := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, name), 0755))
	}

	removed, err := w.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoDirExists(t, filepath.Join(base, names[0]))
	assert.NoDirExists(t, filepath.Join(base, names[1]))
	assert.DirExists(t, filepath.Join(base, names[2]))
	assert.DirExists(t, filepath.Join(base, names[3]))
}

func TestWriter_PruneMissingBase(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "never-created"))

	removed, err := w.Prune(3)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
