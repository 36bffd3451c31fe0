package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveAnalysis(t *testing.T) {
	m := New()
	m.ObserveAnalysis(StatusOK, 120*time.Millisecond, &domain.Report{
		FraudRings: []domain.FraudRing{
			{RingID: "RING_001", PatternType: domain.PatternCycle},
			{RingID: "RING_002", PatternType: domain.PatternLayeredShell},
		},
		Summary: domain.Summary{TotalAccountsAnalyzed: 40, SuspiciousAccountsFlagged: 6, FraudRingsDetected: 2},
	})
	m.ObserveAnalysis(StatusInvalid, 0, nil)
	m.ObserveCache(CacheMiss)
	m.ObserveCoercion(domain.CoercionStats{InvalidAmounts: 3})

	out := scrape(t, m)
	assert.Contains(t, out, `ringwatch_analysis_runs_total{status="ok"} 1`)
	assert.Contains(t, out, `ringwatch_analysis_runs_total{status="invalid"} 1`)
	assert.Contains(t, out, `ringwatch_analysis_accounts_total 40`)
	assert.Contains(t, out, `ringwatch_analysis_suspicious_accounts_total 6`)
	assert.Contains(t, out, `ringwatch_analysis_rings_total{pattern="cycle"} 1`)
	assert.Contains(t, out, `ringwatch_analysis_rings_total{pattern="layered_shell"} 1`)
	assert.Contains(t, out, `ringwatch_cache_lookups_total{result="miss"} 1`)
	assert.Contains(t, out, `ringwatch_ingest_coerced_values_total{column="amount"} 3`)
	assert.NotContains(t, out, `column="timestamp"`)
}

func TestObserveHTTP(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/input/files", 200, 50*time.Millisecond)

	out := scrape(t, m)
	assert.Contains(t, out, `ringwatch_http_requests_total{method="POST",route="/input/files",status="200"} 1`)
	assert.Contains(t, out, `ringwatch_http_request_duration_seconds_count{method="POST",route="/input/files"} 1`)
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveCache(CacheHit)

	assert.Contains(t, scrape(t, a), `ringwatch_cache_lookups_total{result="hit"} 1`)
	assert.NotContains(t, scrape(t, b), `result="hit"`)
}
