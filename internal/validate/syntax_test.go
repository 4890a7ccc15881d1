package validate

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

func TestScanLineHeuristics(t *testing.T) {
	source := `def fine():
    return 1

x = (1 +
y = [1, 2
cfg = {
result:
# comment with ( left open
`

	issues := scanLineHeuristics(source)

	require.Len(t, issues, 4, "One issue per danger pattern, comments and block headers exempt")
	assert.Contains(t, issues[0].Message, "unclosed paren")
	assert.Equal(t, 4, issues[0].Line)
	assert.Contains(t, issues[1].Message, "unclosed bracket")
	assert.Contains(t, issues[2].Message, "unclosed brace")
	assert.Contains(t, issues[3].Message, "trailing colon")
	assert.Equal(t, 7, issues[3].Line)

	for _, issue := range issues {
		assert.Equal(t, model.SeverityWarning, issue.Severity)
	}
}

func TestScanLineHeuristicsCleanSource(t *testing.T) {
	assert.Empty(t, scanLineHeuristics(canonicalScanner))
}

func TestSyntaxInterpreterUnavailable(t *testing.T) {
	v := NewSyntaxValidator(config.InterpreterConfig{
		PythonBin:        "scanguard-missing-interpreter",
		CompileTimeoutMs: 2000,
	})

	result := v.Validate(context.Background(), "x = 1\n")

	// unreachable interpreter is "could not validate", not a verdict
	assert.Equal(t, 70, result.Score)
	assert.False(t, result.Passed)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, model.SeverityError, result.Issues[0].Severity)
	assert.Equal(t, model.CategoryInfrastructure, result.Issues[0].Category)
	assert.Contains(t, result.Issues[0].Message, "could not validate")
}

func TestSyntaxValidSourcePasses(t *testing.T) {
	requirePython(t)
	v := NewSyntaxValidator(config.InterpreterConfig{PythonBin: "python3", CompileTimeoutMs: 10000})

	result := v.Validate(context.Background(), canonicalScanner)

	assert.Equal(t, 100, result.Score, "issues: %v", result.Issues)
	assert.True(t, result.Passed)
}

func TestSyntaxBrokenSourceIsCritical(t *testing.T) {
	requirePython(t)
	v := NewSyntaxValidator(config.InterpreterConfig{PythonBin: "python3", CompileTimeoutMs: 10000})

	result := v.Validate(context.Background(), "def broken(:\n    pass\n")

	assert.Equal(t, 0, result.Score, "Interpreter rejection forces score to 0")
	assert.False(t, result.Passed)

	var critical bool
	for _, issue := range result.Issues {
		if issue.Severity == model.SeverityCritical {
			critical = true
		}
	}
	assert.True(t, critical, "Interpreter rejection must raise a critical issue")
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}
