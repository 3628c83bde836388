package postgres

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultPoolLabel  = "default"
	postgresMeterName = "ragrouter.postgres"
)

var (
	postgresMetricsOnce      sync.Once
	postgresMetricsErr       error
	postgresConnectionsOpen  metric.Int64ObservableGauge
	postgresConnectionsInUse metric.Int64ObservableGauge
	postgresConnectionsIdle  metric.Int64ObservableGauge
	postgresPools            sync.Map
)

// poolMetrics reports pool statistics through an asynchronous gauge callback.
type poolMetrics struct {
	label string
	pool  atomic.Pointer[pgxpool.Pool]
}

func newPoolMetrics(label string) (*poolMetrics, error) {
	if err := ensurePostgresMetrics(); err != nil {
		return nil, err
	}
	if label == "" {
		label = defaultPoolLabel
	}
	return &poolMetrics{label: label}, nil
}

func ensurePostgresMetrics() error {
	postgresMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(postgresMeterName)
		var err error
		if postgresConnectionsOpen, err = meter.Int64ObservableGauge(
			"ragrouter_postgres_connections_open",
			metric.WithDescription("Number of open Postgres connections"),
		); err != nil {
			postgresMetricsErr = err
			return
		}
		if postgresConnectionsInUse, err = meter.Int64ObservableGauge(
			"ragrouter_postgres_connections_in_use",
			metric.WithDescription("Number of Postgres connections currently in use"),
		); err != nil {
			postgresMetricsErr = err
			return
		}
		if postgresConnectionsIdle, err = meter.Int64ObservableGauge(
			"ragrouter_postgres_connections_idle",
			metric.WithDescription("Number of idle Postgres connections"),
		); err != nil {
			postgresMetricsErr = err
			return
		}
		_, postgresMetricsErr = meter.RegisterCallback(observePools,
			postgresConnectionsOpen, postgresConnectionsInUse, postgresConnectionsIdle)
	})
	return postgresMetricsErr
}

func observePools(_ context.Context, observer metric.Observer) error {
	postgresPools.Range(func(_, value any) bool {
		pm, ok := value.(*poolMetrics)
		if !ok {
			return true
		}
		pool := pm.pool.Load()
		if pool == nil {
			return true
		}
		stats := pool.Stat()
		attrs := metric.WithAttributes(attribute.String("pool", pm.label))
		observer.ObserveInt64(postgresConnectionsOpen, int64(stats.TotalConns()), attrs)
		observer.ObserveInt64(postgresConnectionsInUse, int64(stats.AcquiredConns()), attrs)
		observer.ObserveInt64(postgresConnectionsIdle, int64(stats.IdleConns()), attrs)
		return true
	})
	return nil
}

func (p *poolMetrics) attach(pool *pgxpool.Pool) {
	if p == nil || pool == nil {
		return
	}
	p.pool.Store(pool)
	postgresPools.Store(p, p)
}

func (p *poolMetrics) unregister() {
	if p == nil {
		return
	}
	postgresPools.Delete(p)
	p.pool.Store(nil)
}
