package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	m := &io_prometheus_client.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &io_prometheus_client.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.IncrementActiveRuns()

	assert.Equal(t, 1.0, gaugeValue(t, a.ActiveRuns))
	assert.Equal(t, 0.0, gaugeValue(t, b.ActiveRuns))
}

func TestStepTimer(t *testing.T) {
	r := NewRegistry()

	timer := r.StartStepTimer(StepValidate)
	timer.Stop(ResultSuccess)

	assert.Equal(t, 1.0, counterValue(t, r.PipelineSteps, StepValidate, ResultSuccess))
	assert.Equal(t, 0.0, counterValue(t, r.PipelineSteps, StepValidate, ResultError))
}

func TestRecordValidation(t *testing.T) {
	r := NewRegistry()

	r.RecordValidation(85, 90, 70, 83, "good", false)
	r.RecordValidation(95, 100, 92, 96, "excellent", true)

	assert.Equal(t, 1.0, counterValue(t, r.Verdicts, "good"))
	assert.Equal(t, 1.0, counterValue(t, r.Verdicts, "excellent"))

	m := &io_prometheus_client.Metric{}
	require.NoError(t, r.Deployable.Write(m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestCacheHitRatio(t *testing.T) {
	r := NewRegistry()

	r.RecordCacheHit(CacheValidation)
	r.RecordCacheHit(CacheValidation)
	r.RecordCacheMiss(CacheExecution)
	r.RecordCacheMiss(CacheExecution)

	assert.Equal(t, 2.0, counterValue(t, r.CacheHits, CacheValidation))
	assert.Equal(t, 2.0, counterValue(t, r.CacheMisses, CacheExecution))
	assert.InDelta(t, 0.5, gaugeValue(t, r.CacheHitRatio), 0.001)
}

func TestActiveRunLifecycle(t *testing.T) {
	r := NewRegistry()

	r.IncrementActiveRuns()
	r.IncrementActiveRuns()
	r.DecrementActiveRuns()

	assert.Equal(t, 1.0, gaugeValue(t, r.ActiveRuns))

	m := &io_prometheus_client.Metric{}
	require.NoError(t, r.TotalRuns.Write(m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.RecordSandboxExecution("success", 2*time.Second)
	r.RecordPipelineError(StepPersist, "stage_failure")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "scanguard_sandbox_executions_total"))
	assert.True(t, strings.Contains(body, "scanguard_pipeline_errors_total"))
	assert.True(t, strings.Contains(body, "scanguard_sandbox_duration_seconds"))
}
