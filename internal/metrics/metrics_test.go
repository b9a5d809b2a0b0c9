package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersNoopBeforeRegister(t *testing.T) {
	if regOK.Load() {
		t.Skip("metrics already registered by another test")
	}
	assert.NotPanics(t, func() {
		IncWorkerStart("spawned")
		SetOverlayOpen(true)
		ObserveRemote("verify_token", "ok", 0.1)
	})
}

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// second call is a no-op
	require.NoError(t, Register(reg))

	IncWorkerStart("spawned")
	IncWorkerStart("spawned")
	IncWorkerTermination("tree", "ok")
	SetWorkerRunning(true)
	IncOverlayOp("open", "ok")
	SetOverlayOpen(true)
	ObserveRemote("upscale", "api_error", 0.25)

	assert.Equal(t, float64(2), testutil.ToFloat64(workerStarts.WithLabelValues("spawned")))
	assert.Equal(t, float64(1), testutil.ToFloat64(workerTerminations.WithLabelValues("tree", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(workerRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(overlayOpen))
	assert.Equal(t, float64(1), testutil.ToFloat64(remoteRequests.WithLabelValues("upscale", "api_error")))

	SetWorkerRunning(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(workerRunning))
}

func TestHandlerServes(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
