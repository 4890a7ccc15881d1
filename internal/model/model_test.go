package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityError.Rank())
	assert.Greater(t, SeverityError.Rank(), SeverityWarning.Rank())
	assert.Greater(t, SeverityWarning.Rank(), SeverityInfo.Rank())
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-30), "Scores must never go below zero")
	assert.Equal(t, 100, ClampScore(140), "Scores must never exceed 100")
	assert.Equal(t, 72, ClampScore(72))
}

func TestCountSeverities(t *testing.T) {
	issues := []Issue{
		{Severity: SeverityCritical, Category: "structure", Message: "no class"},
		{Severity: SeverityWarning, Category: "style", Message: "long line"},
		{Severity: SeverityWarning, Category: "style", Message: "long line"},
		{Severity: SeverityInfo, Category: "ordering", Message: "no shift"},
	}

	counts := CountSeverities(issues)
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 0, counts[SeverityError])
	assert.Equal(t, 2, counts[SeverityWarning])
	assert.Equal(t, 1, counts[SeverityInfo])
}

func TestAllIssuesPreservesLayerOrder(t *testing.T) {
	cv := ComprehensiveValidation{
		Structural: ValidationResult{Issues: []Issue{{Category: "imports"}}},
		Syntax:     ValidationResult{Issues: []Issue{{Category: "syntax"}}},
		Logic:      ValidationResult{Issues: []Issue{{Category: "ordering"}}},
	}

	all := cv.AllIssues()
	require.Len(t, all, 3)
	assert.Equal(t, "imports", all[0].Category)
	assert.Equal(t, "syntax", all[1].Category)
	assert.Equal(t, "ordering", all[2].Category)
}

func TestSignalKeyNormalization(t *testing.T) {
	// pandas str(Timestamp) carries a time suffix that must not break identity
	a := Signal{Ticker: "aapl", Date: "2024-12-01 00:00:00"}
	b := Signal{Ticker: "AAPL", Date: "2024-12-01"}
	assert.Equal(t, b.Key(), a.Key(), "Ticker case and timestamp suffixes must not affect identity")

	c := Signal{Ticker: "TSLA", Date: "2024-12-01T00:00:00"}
	assert.Equal(t, "TSLA|2024-12-01", c.Key())
}

func TestSignalJSONRoundTrip(t *testing.T) {
	payload := `{"ticker":"NVDA","date":"2024-12-03","gap_pct":0.052,"volume":1200000}`

	var sig Signal
	require.NoError(t, json.Unmarshal([]byte(payload), &sig))
	assert.Equal(t, "NVDA", sig.Ticker)
	assert.Equal(t, "2024-12-03", sig.Date)
	assert.Equal(t, 0.052, sig.Attrs["gap_pct"], "Non-identity attributes ride along as payload")

	out, err := json.Marshal(sig)
	require.NoError(t, err)

	var round map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Equal(t, "NVDA", round["ticker"])
	assert.Equal(t, 0.052, round["gap_pct"])
}

func TestSignalAcceptsSymbolAlias(t *testing.T) {
	var sig Signal
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"MSFT","date":"2024-11-20"}`), &sig))
	assert.Equal(t, "MSFT", sig.Ticker)
	assert.Empty(t, sig.Attrs)
}
