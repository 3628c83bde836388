package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/compozy/ragrouter/engine/infra/monitoring/middleware"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "ragrouter"

// Service owns the meter provider, its Prometheus registry and the router metrics.
type Service struct {
	meter             metric.Meter
	provider          *sdkmetric.MeterProvider
	registry          *prom.Registry
	config            *Config
	router            *RouterMetrics
	system            *systemMetrics
	initialized       bool
	initializationErr error
}

func newDisabledService(cfg *Config, initErr error) *Service {
	return &Service{
		config:            cfg,
		meter:             noop.NewMeterProvider().Meter(meterName),
		initializationErr: initErr,
	}
}

// NewMonitoringService creates a monitoring service backed by a Prometheus exporter.
func NewMonitoringService(ctx context.Context, cfg *Config) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Monitoring disabled, using no-op meter")
		return newDisabledService(cfg, nil), nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	router, err := NewRouterMetrics(meter)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	service := &Service{
		meter:       meter,
		provider:    provider,
		registry:    registry,
		config:      cfg,
		router:      router,
		system:      initSystemMetrics(ctx, meter),
		initialized: true,
	}
	log.Info("Monitoring service initialized", "path", cfg.Path)
	return service, nil
}

// NewMonitoringServiceWithFallback degrades to a no-op service when the
// exporter cannot be built.
func NewMonitoringServiceWithFallback(ctx context.Context, cfg *Config) *Service {
	service, err := NewMonitoringService(ctx, cfg)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to initialize monitoring, using no-op implementation", "error", err)
		if cfg == nil {
			cfg = DefaultConfig()
		}
		return newDisabledService(cfg, err)
	}
	return service
}

func (s *Service) Meter() metric.Meter {
	return s.meter
}

// Router returns the observer for governor, validator and routing events.
// It is nil when monitoring is disabled, which callers treat as a no-op.
func (s *Service) Router() *RouterMetrics {
	return s.router
}

func (s *Service) Path() string {
	return s.config.Path
}

func (s *Service) GinMiddleware(ctx context.Context) gin.HandlerFunc {
	if !s.initialized {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.HTTPMetrics(ctx, s.meter)
}

// ExporterHandler serves the /metrics endpoint.
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
				logger.FromContext(r.Context()).Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	return errors.Join(s.system.unregister(), s.provider.Shutdown(ctx))
}

func (s *Service) IsInitialized() bool {
	return s.initialized
}

func (s *Service) InitializationError() error {
	return s.initializationErr
}

// SetAsGlobal installs the provider as the global OpenTelemetry meter provider.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}
