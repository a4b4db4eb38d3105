package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Transition("membership", "APPLIED_ACCEPTED")
	m.Transition("membership", "APPLIED_ACCEPTED")
	m.AutoRefused("capacity", 3)
	m.AutoRefused("capacity", 0)
	m.Tick(150 * time.Millisecond)
	m.PlanError("start")
	m.Notification("PLAN_STARTED", "SENT")
	m.Dropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("membership", "APPLIED_ACCEPTED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.autoRefused.WithLabelValues("capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schedulerTicks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schedulerErrors.WithLabelValues("start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("PLAN_STARTED", "SENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("plan", "COMPLETED")
		m.AutoRefused("start", 1)
		m.Tick(time.Second)
		m.PlanError("complete")
		m.Notification("PLAN_COMPLETED", "FAILED")
		m.Dropped()
	})
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.Transition("plan", "IN_PROGRESS")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `tripbot_transitions_total{entity="plan",status="IN_PROGRESS"} 1`))
}
