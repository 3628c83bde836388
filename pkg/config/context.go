package config

import "context"

type ContextKey string

const ConfigCtxKey ContextKey = "config"

func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ConfigCtxKey, cfg)
}

// FromContext returns the config attached to ctx, or the defaults when none is attached.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(ConfigCtxKey).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	return Default()
}

const serviceCtxKey ContextKey = "config_service"

// ContextWithService attaches the service that loaded the config so callers
// can ask where a value came from.
func ContextWithService(ctx context.Context, svc Service) context.Context {
	return context.WithValue(ctx, serviceCtxKey, svc)
}

func ServiceFromContext(ctx context.Context) Service {
	if ctx == nil {
		return nil
	}
	svc, _ := ctx.Value(serviceCtxKey).(Service)
	return svc
}
