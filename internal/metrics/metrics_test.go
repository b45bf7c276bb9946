package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors(t *testing.T) {
	m := New()

	m.Heartbeat(ResultOK)
	m.Heartbeat(ResultOK)
	m.Heartbeat(ResultConflict)
	m.SetUnits(3)
	m.StageRun("develop", ResultOK)
	m.Decision("takeover")

	if got := testutil.ToFloat64(m.heartbeats.WithLabelValues(ResultOK)); got != 2 {
		t.Errorf("heartbeats{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.heartbeats.WithLabelValues(ResultConflict)); got != 1 {
		t.Errorf("heartbeats{conflict} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.unitsActive); got != 3 {
		t.Errorf("units_active = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.stageRuns.WithLabelValues("develop", ResultOK)); got != 1 {
		t.Errorf("stage_runs{develop,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("takeover")); got != 1 {
		t.Errorf("decisions{takeover} = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Heartbeat(ResultOK)
	m.SetUnits(1)
	m.StageRun("merge", ResultError)
	m.Decision("rejected")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Heartbeat(ResultOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "taskrunner_heartbeats_total") {
		t.Errorf("metrics output missing heartbeats counter:\n%s", body)
	}
}
