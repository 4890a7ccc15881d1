package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanguard/scanguard/internal/autofix"
	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
	"github.com/scanguard/scanguard/internal/net/ratelimit"
	"github.com/scanguard/scanguard/internal/pipeline"
)

const validScannerSource = `import pandas as pd
import numpy as np

class GapScanner:
    def __init__(self, params=None):
        self.params = params or {"gap_threshold": 0.03}

    def fetch_data(self, tickers, start_date, end_date):
        frames = []
        for ticker in tickers:
            df = load_prices(ticker, start_date, end_date)
            df["ticker"] = ticker
            frames.append(df)
        return pd.concat(frames)

    def compute_features(self, df):
        df["prev_close"] = df.groupby("ticker")["close"].shift(1)
        df["gap"] = df["open"] / df["prev_close"] - 1.0
        df["avg_volume"] = df.groupby("ticker")["volume"].transform(
            lambda s: s.rolling(20).mean())
        return df

    def apply_filters(self, df):
        mask = (df["gap"] > self.params["gap_threshold"]) & \
               (df["volume"] > df["avg_volume"])
        return df[mask]

    def run(self, tickers, start_date, end_date):
        df = self.fetch_data(tickers, start_date, end_date)
        df = self.compute_features(df)
        return self.apply_filters(df)
`

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	cfg := config.GetDefault()
	cfg.Artifacts.Enabled = false
	p, err := pipeline.New(cfg, pipeline.Options{Progress: "none"})
	require.NoError(t, err)
	return p
}

// newTestServer wires a full router around fresh handlers without binding a
// real port.
func newTestServer(t *testing.T, rps float64, burst int) (*Server, *httptest.Server) {
	t.Helper()
	h := NewHandlers(testPipeline(t), nil, nil, nil)
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		limiter:  ratelimit.NewLimiter(rps, burst),
		config:   ServerConfig{Host: "127.0.0.1", Port: 0},
	}
	s.setupRoutes()

	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var envelope ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Nil(t, health.Database)
	assert.Equal(t, 0, health.ProgressClients)
}

func TestValidateEndpoint(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	resp := postJSON(t, ts.URL+"/api/v1/validate", ValidateRequest{
		Source:      validScannerSource,
		ScannerType: "single",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result pipeline.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Stages, 9)
	assert.Contains(t, result.Report, "SCANGUARD VALIDATION REPORT")
	assert.Empty(t, result.ArtifactsPath)
}

func TestValidateRejectsEmptySource(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	resp := postJSON(t, ts.URL+"/api/v1/validate", ValidateRequest{Source: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	envelope := decodeError(t, resp)
	assert.Equal(t, "source_required", envelope.Code)
	assert.NotEmpty(t, envelope.RequestID)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	resp, err := http.Post(ts.URL+"/api/v1/validate", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	envelope := decodeError(t, resp)
	assert.Equal(t, "invalid_json", envelope.Code)
}

func TestFixEndpoint(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	fenced := "```python\nimport pandas as pd\nprint('ok')\n```"
	resp := postJSON(t, ts.URL+"/api/v1/fix", FixRequest{Source: fenced})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fix autofix.FixResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fix))
	assert.True(t, fix.Changed)
	assert.Contains(t, fix.Applied, autofix.RuleStripFenceMarkers)
	assert.NotContains(t, fix.Source, "```")
}

func TestCompareEndpoint(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	run := model.ExecutionResult{
		Success: true,
		Signals: []model.Signal{
			{Ticker: "AAPL", Date: "2024-01-02"},
			{Ticker: "MSFT", Date: "2024-01-03"},
		},
		ExecutionTimeMs: 120,
	}
	resp := postJSON(t, ts.URL+"/api/v1/compare", CompareRequest{
		Original:  run,
		Candidate: run,
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cmp model.EquivalenceComparison
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cmp))
	assert.True(t, cmp.SignalsMatch)
	assert.Equal(t, 2, cmp.OriginalCount)
	assert.InDelta(t, 100.0, cmp.MatchRatePercent, 0.01)
}

func TestRunsWithoutDatabase(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	envelope := decodeError(t, resp)
	assert.Equal(t, "history_disabled", envelope.Code)
}

func TestRateLimiting(t *testing.T) {
	_, ts := newTestServer(t, 1, 1)

	first := postJSON(t, ts.URL+"/api/v1/fix", FixRequest{Source: "print('ok')"})
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, ts.URL+"/api/v1/fix", FixRequest{Source: "print('ok')"})
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	envelope := decodeError(t, second)
	assert.Equal(t, "rate_limited", envelope.Code)
}

func TestNotFoundEnvelope(t *testing.T) {
	_, ts := newTestServer(t, 100, 100)

	resp, err := http.Get(ts.URL + "/api/v1/unknown")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	envelope := decodeError(t, resp)
	assert.Equal(t, "not_found", envelope.Code)
}

func TestProgressStream(t *testing.T) {
	s, ts := newTestServer(t, 100, 100)
	hub := s.handlers.Hub()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Start("run-42", 9)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event map[string]interface{}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "run_start", event["event"])
	assert.Equal(t, "run-42", event["run_id"])
	assert.EqualValues(t, 9, event["total_stages"])

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := ServerConfigFrom(config.ServerConfig{})
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.InDelta(t, 5.0, cfg.RateRPS, 0.01)
	assert.Equal(t, 10, cfg.RateBurst)
}
