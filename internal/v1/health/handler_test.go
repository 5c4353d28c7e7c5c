package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jumpjumpjump/backend/go/internal/v1/bus"
)

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
	return r
}

func TestLiveness(t *testing.T) {
	h := NewHandler(nil)
	r := setupRouter(h)

	req, _ := http.NewRequest("GET", "/health/live", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)

	var body LivenessResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "alive", body.Status)
	assert.NotEmpty(t, body.Timestamp)
}

func TestReadiness_NoRedis(t *testing.T) {
	// Single-instance mode: no bus, still ready.
	h := NewHandler(nil)
	r := setupRouter(h)

	req, _ := http.NewRequest("GET", "/health/ready", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "healthy", body.Checks["redis"])
}

func TestReadiness_RedisHealthy(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	svc, err := bus.NewService(mr.Addr(), "", "pod-test")
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	h := NewHandler(svc)
	r := setupRouter(h)

	req, _ := http.NewRequest("GET", "/health/ready", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestReadiness_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := bus.NewService(mr.Addr(), "", "pod-test")
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	// Kill redis before the probe
	mr.Close()

	h := NewHandler(svc)
	r := setupRouter(h)

	req, _ := http.NewRequest("GET", "/health/ready", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "unhealthy", body.Checks["redis"])
}
