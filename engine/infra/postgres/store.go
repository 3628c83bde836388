package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns          = 10
	defaultHealthCheckPeriod = 30 * time.Second
	defaultConnectTimeout    = 5 * time.Second
	defaultPingTimeout       = 3 * time.Second
	healthCheckTimeout       = time.Second
)

// Store owns the pgx pool shared by the run log and the vector index.
type Store struct {
	pool    *pgxpool.Pool
	metrics *poolMetrics
}

func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %s", core.RedactError(err))
	}
	applyPoolSettings(cfg, poolCfg)
	log := logger.FromContext(ctx)
	metrics, mErr := newPoolMetrics(cfg.Label)
	if mErr != nil {
		log.Warn("Postgres metrics not initialized; continuing without metrics", "error", mErr)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %s", core.RedactError(err))
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %s", core.RedactError(err))
	}
	metrics.attach(pool)
	log.Info("Store initialized",
		"store_driver", "postgres",
		"host", poolCfg.ConnConfig.Host,
		"db_name", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns)
	return &Store{pool: pool, metrics: metrics}, nil
}

func applyPoolSettings(cfg *Config, poolCfg *pgxpool.Config) {
	poolCfg.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = min(cfg.MinConns, poolCfg.MaxConns)
	}
	poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
}

// Pool exposes the pool to the repositories in this module.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) HealthCheck(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := s.pool.Ping(hctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.metrics.unregister()
	s.pool.Close()
	logger.FromContext(ctx).Info("Postgres store closed")
	return nil
}
