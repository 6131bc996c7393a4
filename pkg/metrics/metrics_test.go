package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerMeasuresElapsedTime(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), 20*time.Millisecond)
}

func TestHealthHandler(t *testing.T) {
	RegisterComponent("storage", true)
	RegisterComponent("iface", true)

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "ok", status.Components["storage"])

	RegisterComponent("storage", false)
	rec = httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)

	// Restore for other tests.
	RegisterComponent("storage", true)
}
