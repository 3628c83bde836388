package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Should count requests by route template and status", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		router := gin.New()
		router.Use(HTTPMetrics(t.Context(), provider.Meter("test")))
		router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		for range 2 {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", http.NoBody))
			require.Equal(t, http.StatusNoContent, w.Code)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", http.NoBody))
		require.Equal(t, http.StatusNotFound, w.Code)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(t.Context(), &rm))
		counts := map[string]int64{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "ragrouter_http_requests_total" {
					continue
				}
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					path, _ := dp.Attributes.Value(attribute.Key("path"))
					counts[path.AsString()] += dp.Value
				}
			}
		}
		assert.Equal(t, int64(2), counts["/items/:id"])
		assert.Equal(t, int64(1), counts["unmatched"])
	})

	t.Run("Should pass through with a nil meter", func(t *testing.T) {
		router := gin.New()
		router.Use(HTTPMetrics(t.Context(), nil))
		router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
