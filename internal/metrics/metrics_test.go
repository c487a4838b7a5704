package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordProvision(t *testing.T) {
	m := New()

	m.RecordProvision("", 1.5, 1)
	m.RecordProvision("USER_EXISTS_EXHAUSTED", 3, 3)

	require.Equal(t, float64(1), testutil.ToFloat64(m.ProvisionOutcomes.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ProvisionOutcomes.WithLabelValues("USER_EXISTS_EXHAUSTED")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.ProvisionAttempts))
}

func TestRecordReconcile(t *testing.T) {
	m := New()

	m.RecordReconcile(2, 1, false)

	require.Equal(t, float64(2), testutil.ToFloat64(m.ReconcileOrphans))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ReconcileMissing))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ReconcileRuns.WithLabelValues("ok")))
	require.Greater(t, testutil.ToFloat64(m.ReconcileLastRunTime), float64(0))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordPanelRequest("create_server", 201, 0.2)
	m.RecordPanelRequest("list_users", 0, 0.1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `hostbot_panel_request_duration_seconds_count{operation="create_server",status="201"} 1`))
	require.True(t, strings.Contains(body, `operation="list_users",status="error"`))
}
