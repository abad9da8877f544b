package observability_test

import (
	"SynthLedger/internal/observability"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness_NotReadyUntilSet(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness_FailingCheckDegrades(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)
	h.RegisterCheck("postgres", func(ctx context.Context) error { return errors.New("connection refused") })
	h.RegisterCheck("nats", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status   string            `json:"status"`
		Failures map[string]string `json:"failures"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{"postgres": "connection refused"}, body.Failures)
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggerTo_IncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "engine")
	logger.Info().Str("account", "0xabc").Msg("deposit")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "deposit", line["message"])
}

func TestMetrics_PrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsWith(reg)
	m.SetChannelMetrics("persist", 5, 10)
	assert.Equal(t, 0.5, testutil.ToFloat64(m.ChannelUtilization.WithLabelValues("persist")))

	// a second registry does not collide
	_ = observability.NewMetricsWith(prometheus.NewRegistry())
}
