package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/compozy/ragrouter/engine/infra/monitoring/metrics"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type httpInstruments struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newHTTPInstruments(ctx context.Context, meter metric.Meter) *httpInstruments {
	log := logger.FromContext(ctx)
	requests, err := meter.Int64Counter(
		metrics.MetricNameWithSubsystem("http", "requests_total"),
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		log.Error("Failed to create http requests counter", "error", err)
		return nil
	}
	duration, err := meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("http", "request_duration_seconds"),
		metric.WithDescription("HTTP request latency"),
		metric.WithExplicitBucketBoundaries(metrics.HTTPDurationBuckets...),
	)
	if err != nil {
		log.Error("Failed to create http request duration histogram", "error", err)
		return nil
	}
	inFlight, err := meter.Int64UpDownCounter(
		metrics.MetricNameWithSubsystem("http", "requests_in_flight"),
		metric.WithDescription("Currently active HTTP requests"),
	)
	if err != nil {
		log.Error("Failed to create http in-flight counter", "error", err)
		return nil
	}
	return &httpInstruments{requests: requests, duration: duration, inFlight: inFlight}
}

// HTTPMetrics returns a Gin middleware that collects request count, latency
// and in-flight gauges labeled by route template.
func HTTPMetrics(ctx context.Context, meter metric.Meter) gin.HandlerFunc {
	if meter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	inst := newHTTPInstruments(ctx, meter)
	if inst == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqCtx := c.Request.Context()
		inst.inFlight.Add(reqCtx, 1)
		defer inst.inFlight.Add(reqCtx, -1)
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)
		inst.requests.Add(reqCtx, 1, attrs)
		inst.duration.Record(reqCtx, time.Since(start).Seconds(), attrs)
	}
}
