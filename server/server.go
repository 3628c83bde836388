package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/compozy/ragrouter/engine/infra/monitoring"
	"github.com/compozy/ragrouter/engine/infra/postgres"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	httpReadTimeout       = 15 * time.Second
	httpIdleTimeout       = 60 * time.Second
	serverShutdownTimeout = 10 * time.Second
	// Questions can fan out to both agents, so writes wait for the full query timeout.
	writeTimeoutMargin = 15 * time.Second
)

// QueryService answers one question.
type QueryService interface {
	Query(ctx context.Context, question string) (*orchestrator.SynthesizedAnswer, error)
}

// RunLog exposes recorded runs. It is optional.
type RunLog interface {
	ListRecent(ctx context.Context, limit int) ([]postgres.LogSummary, error)
	CostStats(ctx context.Context) (postgres.CostStats, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Query        QueryService
	RunLog       RunLog
	Monitoring   *monitoring.Service
	Checks       map[string]HealthCheck
	Version      string
	QueryTimeout time.Duration
}

type Server struct {
	cfg    *config.ServerConfig
	deps   Deps
	router *gin.Engine
}

func New(ctx context.Context, cfg *config.ServerConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	if deps.Query == nil {
		return nil, errors.New("query service is required")
	}
	s := &Server{cfg: cfg, deps: deps}
	s.router = s.buildRouter(ctx)
	return s, nil
}

func (s *Server) buildRouter(ctx context.Context) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware(logger.FromContext(ctx)))
	router.Use(LoggerMiddleware())
	if len(s.cfg.CORSOrigins) > 0 {
		router.Use(CORSMiddleware(s.cfg.CORSOrigins))
	}
	if mon := s.deps.Monitoring; mon != nil {
		router.Use(mon.GinMiddleware(ctx))
		router.GET(mon.Path(), gin.WrapH(mon.ExporterHandler()))
	}
	router.GET(HealthRoute, s.handleHealth)
	api := router.Group(Base())
	api.POST("/query", s.handleQuery)
	if s.deps.RunLog != nil {
		api.GET("/logs", s.handleLogs)
		api.GET("/stats", s.handleStats)
	}
	return router
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       httpReadTimeout,
		ReadHeaderTimeout: httpReadTimeout,
		WriteTimeout:      s.deps.QueryTimeout + writeTimeoutMargin,
		IdleTimeout:       httpIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Debug("Received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server shutdown completed")
	return nil
}
