package monitoring

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/compozy/ragrouter/engine/infra/monitoring/metrics"
	"github.com/compozy/ragrouter/pkg/logger"
	buildversion "github.com/compozy/ragrouter/pkg/version"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// systemMetrics publishes build info and uptime. The uptime callback stays
// registered until unregister is called.
type systemMetrics struct {
	started      time.Time
	registration metric.Registration
}

func initSystemMetrics(ctx context.Context, meter metric.Meter) *systemMetrics {
	log := logger.FromContext(ctx)
	sys := &systemMetrics{started: time.Now()}
	buildInfo, err := meter.Float64Gauge(
		metrics.MetricName("build_info"),
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		log.Error("Failed to create build info gauge", "error", err)
	} else {
		version, commit, goVersion := getBuildInfo()
		buildInfo.Record(ctx, 1, metric.WithAttributes(
			attribute.String("version", version),
			attribute.String("commit_hash", commit),
			attribute.String("go_version", goVersion),
		))
		log.Info("System metrics initialized", "version", version, "commit", commit, "go_version", goVersion)
	}
	uptime, err := meter.Float64ObservableGauge(
		metrics.MetricName("uptime_seconds"),
		metric.WithDescription("Service uptime in seconds"),
	)
	if err != nil {
		log.Error("Failed to create uptime gauge", "error", err)
		return sys
	}
	sys.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(sys.started).Seconds())
		return nil
	}, uptime)
	if err != nil {
		log.Error("Failed to register uptime callback", "error", err)
	}
	return sys
}

func (s *systemMetrics) unregister() error {
	if s == nil || s.registration == nil {
		return nil
	}
	err := s.registration.Unregister()
	s.registration = nil
	return err
}

// getBuildInfo prefers ldflags values and falls back to the embedded module info.
func getBuildInfo() (version, commit, goVersion string) {
	version = buildversion.Version
	commit = buildversion.CommitHash
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "unknown" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		if commit == "unknown" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value
					break
				}
			}
		}
	}
	return version, commit, runtime.Version()
}
