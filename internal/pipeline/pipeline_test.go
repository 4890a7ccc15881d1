package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanguard/scanguard/data/cache"
	"github.com/scanguard/scanguard/internal/artifacts"
	"github.com/scanguard/scanguard/internal/autofix"
	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/metrics"
	"github.com/scanguard/scanguard/internal/persistence"
	"github.com/scanguard/scanguard/internal/progress"
)

const goodSource = `import pandas as pd
import numpy as np

class GapScanner:
    def __init__(self, start_date, end_date, params=None):
        self.start_date = start_date
        self.end_date = end_date
        self.params = params or {'min_gap_pct': 0.03}

    def fetch_data(self, tickers):
        frames = []
        for ticker in tickers:
            frames.append(load_history(ticker, self.start_date, self.end_date))
        return pd.concat(frames)

    def compute_features(self, df):
        df['gap_pct'] = df.groupby('ticker')['open'].transform(lambda s: s / s.shift(1) - 1)
        df['volume_avg'] = df.groupby('ticker')['volume'].transform(lambda s: s.rolling(20).mean())
        return df

    def apply_filters(self, df):
        return df[df['gap_pct'] >= self.params['min_gap_pct']]

    def run(self, tickers):
        df = self.fetch_data(tickers)
        df = self.compute_features(df)
        return self.apply_filters(df)
`

const fencedSource = "```python\n" + `import pandas as pd

class BrokenScanner:
    def __init__(self, startDate, endDate):
        self.startDate = startDate
        self.endDate = endDate

    def run(self, tickers):
        df = fetch_all(tickers, self.startDate, self.endDate)
        df['vol_avg'] = df['volume'].rolling(20).mean()
        return df[df['vol_avg'] > 1000000]
` + "```\n"

func testConfig() *config.Config {
	cfg := config.GetDefault()
	cfg.Artifacts.Enabled = false
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config, opts Options) *Pipeline {
	t.Helper()
	if opts.Progress == "" {
		opts.Progress = "none"
	}
	p, err := New(cfg, opts)
	require.NoError(t, err)
	return p
}

func stageByNumber(t *testing.T, result *Result, stage int) progress.StageResult {
	t.Helper()
	for _, s := range result.Stages {
		if s.Stage == stage {
			return s
		}
	}
	t.Fatalf("stage %d not found in result", stage)
	return progress.StageResult{}
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &io_prometheus_client.Metric{}
	c, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestRun_ValidateOnly(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Options{Cache: cache.New()})

	result, err := p.Run(context.Background(), Request{Source: goodSource})
	require.NoError(t, err)

	_, uuidErr := uuid.Parse(result.RunID)
	assert.NoError(t, uuidErr)

	require.Len(t, result.Stages, totalStages)
	assert.Equal(t, progress.StatusPass, stageByNumber(t, result, 1).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 3).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 4).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 5).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 6).Status)
	assert.Equal(t, progress.StatusPass, stageByNumber(t, result, 7).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 8).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 9).Status)

	assert.Contains(t, result.Report, "SCANGUARD VALIDATION REPORT")
	assert.Nil(t, result.Comparison)
	assert.Empty(t, result.ArtifactsPath)
}

func TestRun_AutofixRevalidates(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Options{Cache: cache.New()})

	result, err := p.Run(context.Background(), Request{Source: fencedSource})
	require.NoError(t, err)

	assert.Equal(t, progress.StatusPass, stageByNumber(t, result, 2).Status)
	assert.Equal(t, progress.StatusPass, stageByNumber(t, result, 3).Status)

	assert.Contains(t, result.RulesApplied, autofix.RuleStripFenceMarkers)
	assert.Contains(t, result.RulesApplied, autofix.RuleCanonicalDateFields)
	assert.NotContains(t, result.FixedSource, "```")
	require.NotNil(t, result.PreFix)

	// A fragment this broken never passes
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.FailureReason)
}

func TestRun_AutofixDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Autofix.Enabled = false
	p := newTestPipeline(t, cfg, Options{Cache: cache.New()})

	result, err := p.Run(context.Background(), Request{Source: fencedSource})
	require.NoError(t, err)

	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 2).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 3).Status)
	assert.Empty(t, result.RulesApplied)
	assert.Empty(t, result.FixedSource)
}

func TestRun_ValidationCacheHit(t *testing.T) {
	m := metrics.NewRegistry()
	p := newTestPipeline(t, testConfig(), Options{Cache: cache.New(), Metrics: m})

	_, err := p.Run(context.Background(), Request{Source: goodSource})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), Request{Source: goodSource})
	require.NoError(t, err)

	hits := counterValue(t, m.CacheHits, metrics.CacheValidation)
	assert.GreaterOrEqual(t, hits, 1.0)
}

func TestRun_ExecuteRequiresOriginal(t *testing.T) {
	cfg := testConfig()
	// Guarantee the candidate execution fails fast regardless of environment
	cfg.Interpreter.PythonBin = filepath.Join(t.TempDir(), "missing-python")
	p := newTestPipeline(t, cfg, Options{Cache: cache.New()})

	result, err := p.Run(context.Background(), Request{
		Source:    goodSource,
		Execute:   true,
		StartDate: "2024-01-01",
		EndDate:   "2024-03-01",
	})
	require.NoError(t, err)

	assert.Equal(t, progress.StatusFail, stageByNumber(t, result, 4).Status)
	assert.Equal(t, progress.StatusSkip, stageByNumber(t, result, 6).Status)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailureReason, "original source is required")
}

func TestRun_ArtifactsWritten(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Artifacts.Enabled = true
	cfg.Artifacts.Dir = dir

	p := newTestPipeline(t, cfg, Options{
		Cache:     cache.New(),
		Artifacts: artifacts.NewWriter(dir),
	})

	result, err := p.Run(context.Background(), Request{Source: goodSource})
	require.NoError(t, err)

	require.NotEmpty(t, result.ArtifactsPath)
	assert.FileExists(t, filepath.Join(result.ArtifactsPath, "report.txt"))
	assert.FileExists(t, filepath.Join(result.ArtifactsPath, "summary.md"))

	data, err := os.ReadFile(filepath.Join(result.ArtifactsPath, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, result.Report, string(data))
}

type fakeRunsRepo struct {
	saved []persistence.ValidationRun
}

func (f *fakeRunsRepo) Save(_ context.Context, run persistence.ValidationRun) error {
	f.saved = append(f.saved, run)
	return nil
}

func (f *fakeRunsRepo) GetByID(context.Context, string) (*persistence.ValidationRun, error) {
	return nil, nil
}

func (f *fakeRunsRepo) ListRecent(context.Context, int) ([]persistence.ValidationRun, error) {
	return nil, nil
}

func (f *fakeRunsRepo) ListBySourceHash(context.Context, string, int) ([]persistence.ValidationRun, error) {
	return nil, nil
}

func (f *fakeRunsRepo) CountByStatus(context.Context, time.Time) (map[string]int64, error) {
	return nil, nil
}

type fakeEquivalenceRepo struct {
	saved []persistence.EquivalenceRun
}

func (f *fakeEquivalenceRepo) Save(_ context.Context, run persistence.EquivalenceRun) error {
	f.saved = append(f.saved, run)
	return nil
}

func (f *fakeEquivalenceRepo) GetByRunID(context.Context, string) (*persistence.EquivalenceRun, error) {
	return nil, nil
}

func (f *fakeEquivalenceRepo) ListRecent(context.Context, int) ([]persistence.EquivalenceRun, error) {
	return nil, nil
}

func TestRun_PersistsHistory(t *testing.T) {
	runs := &fakeRunsRepo{}
	eq := &fakeEquivalenceRepo{}

	p := newTestPipeline(t, testConfig(), Options{
		Cache:      cache.New(),
		Repository: &persistence.Repository{Runs: runs, Equivalence: eq},
	})

	result, err := p.Run(context.Background(), Request{Source: goodSource, ScannerType: "multi", StrictMode: true})
	require.NoError(t, err)

	assert.Equal(t, progress.StatusPass, stageByNumber(t, result, 9).Status)
	require.Len(t, runs.saved, 1)
	assert.Equal(t, result.RunID, runs.saved[0].ID)
	assert.Equal(t, "multi", runs.saved[0].ScannerType)
	assert.True(t, runs.saved[0].StrictMode)
	assert.NotEmpty(t, runs.saved[0].SourceHash)

	// No execution phase ran, so no equivalence row
	assert.Empty(t, eq.saved)
}

func TestRun_CancelledContext(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Options{Cache: cache.New()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Run(ctx, Request{Source: goodSource})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailureReason, "cancelled")
}
