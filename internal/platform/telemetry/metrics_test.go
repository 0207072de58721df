package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetricsExportsCounters(t *testing.T) {
	shutdown, metrics, err := InitMetrics("test")
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	metrics.RecordDeployment(context.Background(), "placed")
	metrics.RecordWebhookEvent(context.Background(), "applied")

	w := httptest.NewRecorder()
	metrics.PrometheusHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "riverly_deployments_triggered_total")
	assert.Contains(t, body, `outcome="placed"`)
	assert.Contains(t, body, "riverly_webhook_events_total")
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDeployment(context.Background(), "placed")
		m.RecordWebhookEvent(context.Background(), "applied")
	})
}
