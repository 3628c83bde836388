package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitoringService(t *testing.T) {
	t.Run("Should return a disabled service for a nil config", func(t *testing.T) {
		service, err := NewMonitoringService(t.Context(), nil)
		require.NoError(t, err)
		assert.False(t, service.IsInitialized())
		assert.Equal(t, "/metrics", service.Path())
		assert.Nil(t, service.Router())
		assert.NotNil(t, service.Meter())
		require.NoError(t, service.Shutdown(t.Context()))
	})

	t.Run("Should reject an invalid path", func(t *testing.T) {
		service, err := NewMonitoringService(t.Context(), &Config{Enabled: true, Path: "/api/metrics"})
		require.ErrorContains(t, err, "cannot be under /api/")
		assert.Nil(t, service)
	})

	t.Run("Should fall back to a no-op service on invalid config", func(t *testing.T) {
		service := NewMonitoringServiceWithFallback(t.Context(), &Config{Enabled: true, Path: "metrics"})
		assert.False(t, service.IsInitialized())
		require.Error(t, service.InitializationError())
	})

	t.Run("Should expose recorded metrics through the exporter handler", func(t *testing.T) {
		service, err := NewMonitoringService(t.Context(), &Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = service.Shutdown(t.Context()) })
		require.True(t, service.IsInitialized())

		router := service.Router()
		require.NotNil(t, router)
		router.RouteChosen(t.Context(), "GRAPH")
		router.QueryCompleted(t.Context(), "GRAPH", 2*time.Second, nil)
		router.BudgetDenied(t.Context(), "graph", 5, 5)

		count, err := testutil.GatherAndCount(service.registry)
		require.NoError(t, err)
		assert.Positive(t, count)

		w := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		body, err := io.ReadAll(w.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "ragrouter_router_routes")
		assert.Contains(t, string(body), "ragrouter_governor_denials")
		assert.Contains(t, string(body), "ragrouter_build_info")
	})
}

func TestService_Handlers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Should answer 503 when monitoring is disabled", func(t *testing.T) {
		service, err := NewMonitoringService(t.Context(), DefaultConfig())
		require.NoError(t, err)
		w := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Should pass requests through the disabled middleware", func(t *testing.T) {
		service, err := NewMonitoringService(t.Context(), DefaultConfig())
		require.NoError(t, err)
		engine := gin.New()
		engine.Use(service.GinMiddleware(t.Context()))
		engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
		assert.Equal(t, "pong", w.Body.String())
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		path string
		msg  string
	}{
		{name: "Should reject an empty path", path: "", msg: "cannot be empty"},
		{name: "Should require a leading slash", path: "metrics", msg: "must start with '/'"},
		{name: "Should reject API paths", path: "/api/v0/metrics", msg: "cannot be under /api/"},
		{name: "Should reject query strings", path: "/metrics?x=1", msg: "query parameters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Config{Path: tt.path}).Validate()
			require.ErrorContains(t, err, tt.msg)
		})
	}
	t.Run("Should accept the default path", func(t *testing.T) {
		require.NoError(t, DefaultConfig().Validate())
	})
}
