package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const fallbackRedisPingTimeout = 5 * time.Second

// Redis owns the client used by the graph schema cache.
type Redis struct {
	client redis.UniversalClient
	once   sync.Once
	ctx    context.Context
}

// NewRedis connects and pings the server before returning.
func NewRedis(ctx context.Context, cfg *Config) (*Redis, error) {
	log := logger.FromContext(ctx).With("component", "infra_redis")
	ctx = logger.ContextWithLogger(ctx, log)
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	opt, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = fallbackRedisPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging Redis server (timeout=%s): %s", timeout, core.RedactError(err))
	}
	log.Info("Redis connection established", "cache_driver", "redis", "addr", opt.Addr, "db", opt.DB)
	return &Redis{client: client, ctx: ctx}, nil
}

func buildOptions(cfg *Config) (*redis.Options, error) {
	var opt *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing Redis URL: %s", core.RedactError(err))
		}
		opt = parsed
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis addr is required")
		}
		opt = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}
	return opt, nil
}

func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: health check failed: %w", err)
	}
	return nil
}

// Close is idempotent.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = r.client.Close()
		if err != nil {
			logger.FromContext(r.ctx).Error("Redis connection close failed", "error", err)
			return
		}
		logger.FromContext(r.ctx).Debug("Redis connection closed")
	})
	return err
}
