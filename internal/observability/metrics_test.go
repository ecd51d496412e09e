package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecode(3, 1)
	m.ObserveFinalize("finalized")
	m.ObserveClaim("paid", 10, 1)
	m.ObserveSweep("ok")
	m.Since("finalize", time.Now())
	m.ObserveHTTP("GET /api/health", "200", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecode(5, 2)
	m.ObserveFinalize("finalized")
	m.ObserveFinalize("mismatch")
	m.ObserveClaim("paid", 1425, 75)

	if got := testutil.ToFloat64(m.ChoicesSkipped); got != 2 {
		t.Errorf("skipped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TallyMismatches); got != 1 {
		t.Errorf("mismatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Finalizations.WithLabelValues("finalized")); got != 1 {
		t.Errorf("finalized = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FeeUnits); got != 75 {
		t.Errorf("fee units = %v, want 75", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "settle_payout_units_total 1425") {
		t.Errorf("exposition missing payout units:\n%s", rec.Body.String())
	}
}
