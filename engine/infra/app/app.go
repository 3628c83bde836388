package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/ragrouter/engine/agent"
	"github.com/compozy/ragrouter/engine/graph"
	"github.com/compozy/ragrouter/engine/infra/cache"
	"github.com/compozy/ragrouter/engine/infra/monitoring"
	"github.com/compozy/ragrouter/engine/infra/postgres"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/compozy/ragrouter/engine/retrieval"
	"github.com/compozy/ragrouter/engine/retrieval/textindex"
	"github.com/compozy/ragrouter/engine/retrieval/vectorindex"
	"github.com/compozy/ragrouter/engine/tools"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	connectTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// App holds every long-lived component built from one configuration.
type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Document     *agent.Adapter
	Graph        *agent.Adapter
	Executor     *graph.Executor
	Schema       *graph.SchemaProvider
	// RunLog is nil when no Postgres DSN is configured or run logging is off.
	RunLog     *postgres.RunLogRepo
	Monitoring *monitoring.Service
	Checks     map[string]func(context.Context) error

	store    *postgres.Store
	redis    *cache.Redis
	runner   graph.Runner
	cleanups []func(context.Context) error
}

// Build connects to every configured backend and assembles the agents. On
// failure everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	a := &App{Config: cfg, Checks: map[string]func(context.Context) error{}}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()
	a.setupMonitoring(ctx)
	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}
	a.setupRedis(ctx)
	client, err := NewLLMClient(&cfg.LLM, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	a.cleanups = append(a.cleanups, func(context.Context) error { return client.Close() })
	index, err := a.setupIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.setupGraph(ctx); err != nil {
		return nil, err
	}
	if err := a.setupAgents(ctx, client, index); err != nil {
		return nil, err
	}
	return a, a.setupOrchestrator(client)
}

func (a *App) setupMonitoring(ctx context.Context) {
	mc := a.Config.Monitoring
	a.Monitoring = monitoring.NewMonitoringServiceWithFallback(ctx, &monitoring.Config{Enabled: mc.Enabled, Path: mc.Path})
	a.Monitoring.SetAsGlobal()
	a.cleanups = append(a.cleanups, a.Monitoring.Shutdown)
}

func (a *App) setupStore(ctx context.Context) error {
	pg := a.Config.Postgres
	needsVector := a.Config.DocumentAgent.IndexKind == string(retrieval.KindVector)
	if pg.DSN.Value() == "" {
		if needsVector {
			return errors.New("vector index requires postgres.dsn")
		}
		if a.Config.Orchestrator.RunLog {
			logger.FromContext(ctx).Warn("Run log disabled: postgres.dsn is not set")
		}
		return nil
	}
	if pg.AutoMigrate {
		opts := postgres.MigrateOptions{Lock: pg.MigrationLock, LockTimeout: pg.MigrationLockTimeout}
		if _, err := postgres.Migrate(ctx, pg.DSN.Value(), opts); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	store, err := postgres.NewStore(ctx, &postgres.Config{DSN: pg.DSN.Value(), Label: "ragrouter"})
	if err != nil {
		return err
	}
	a.store = store
	a.Checks["postgres"] = store.HealthCheck
	a.cleanups = append(a.cleanups, store.Close)
	if a.Config.Orchestrator.RunLog {
		a.RunLog = postgres.NewRunLogRepo(store.Pool(), a.Config.LLM.Provider, a.Config.LLM.Model, postgres.Prices{
			InputPer1K:  a.Config.LLM.InputCostPer1K,
			OutputPer1K: a.Config.LLM.OutputCostPer1K,
		})
	}
	return nil
}

// setupRedis is best effort: the schema is fetched from Neo4j on every miss without it.
func (a *App) setupRedis(ctx context.Context) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return
	}
	r, err := cache.NewRedis(ctx, &cache.Config{Addr: rc.Addr, Password: rc.Password.Value(), DB: rc.DB})
	if err != nil {
		logger.FromContext(ctx).Warn("Redis unavailable, graph schema will not be cached", "error", err)
		return
	}
	a.redis = r
	a.Checks["redis"] = r.HealthCheck
	a.cleanups = append(a.cleanups, func(context.Context) error { return r.Close() })
}

func (a *App) setupIndex(ctx context.Context) (retrieval.Index, error) {
	cfg := a.Config
	if cfg.DocumentAgent.IndexKind == string(retrieval.KindVector) {
		embedder, err := llmadapter.NewEmbedder(providerConfig(&cfg.LLM, cfg.LLM.Model), cfg.LLM.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		index, err := vectorindex.New(a.store.Pool(), embedder, vectorindex.Config{
			Table:     cfg.Postgres.VectorTable,
			Dimension: cfg.Postgres.Dimension,
		})
		if err != nil {
			return nil, err
		}
		return index, nil
	}
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	index, disconnect, err := textindex.Connect(connCtx, cfg.Mongo.URI.Value(), cfg.Mongo.Database, cfg.Mongo.Collection)
	if err != nil {
		return nil, err
	}
	a.cleanups = append(a.cleanups, disconnect)
	return index, nil
}

func (a *App) setupGraph(ctx context.Context) error {
	nc := a.Config.Neo4j
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	runner, err := graph.NewNeo4jRunner(connCtx, nc.URI, nc.User, nc.Password.Value(), nc.Database)
	if err != nil {
		return err
	}
	a.runner = runner
	a.cleanups = append(a.cleanups, runner.Close)
	a.Checks["neo4j"] = func(ctx context.Context) error {
		_, _, err := runner.Run(ctx, "RETURN 1 AS ok", 1)
		return err
	}
	var rc redis.UniversalClient
	if a.redis != nil {
		rc = a.redis.Client()
	}
	a.Executor = graph.NewExecutor(runner, nc.MaxQueryResults, nc.MaxToolResultSize)
	a.Schema = graph.NewSchemaProvider(runner, rc, graph.SchemaOptions{
		Database:  nc.Database,
		MaxTokens: nc.MaxSchemaTokens,
		CacheTTL:  nc.SchemaCacheTTL,
	})
	return nil
}

func (a *App) setupAgents(ctx context.Context, client llmadapter.LLMClient, index retrieval.Index) error {
	cfg := a.Config
	observer := a.Monitoring.Router()
	opts := []agent.Option{agent.WithGovernorObserver(observer)}
	doc, err := agent.New(client, agent.DocumentDefinition(cfg, tools.NewSearchTool(index, cfg.DocumentAgent.NumResults)), opts...)
	if err != nil {
		return err
	}
	graphDef, err := agent.GraphDefinition(cfg, tools.NewCypherTool(a.Executor, observer), a.Schema)
	if err != nil {
		return err
	}
	graphAgent, err := agent.New(client, graphDef, opts...)
	if err != nil {
		return err
	}
	agent.WarnOnLimitAsymmetry(ctx, doc.Limits(), graphAgent.Limits())
	a.Document, a.Graph = doc, graphAgent
	return nil
}

func (a *App) setupOrchestrator(client llmadapter.LLMClient) error {
	ocfg := orchestrator.Config{
		Router:   client,
		Document: a.Document,
		Graph:    a.Graph,
		Timeout:  a.Config.Orchestrator.QueryTimeout,
		Options: llmadapter.CallOptions{
			Temperature: a.Config.LLM.Temperature,
			MaxTokens:   int32(a.Config.LLM.MaxTokens), // #nosec G115 -- validated max tokens
		},
		Observer: a.Monitoring.Router(),
	}
	if a.RunLog != nil {
		ocfg.Recorder = a.RunLog
	}
	orch, err := orchestrator.New(ocfg)
	if err != nil {
		return err
	}
	a.Orchestrator = orch
	a.cleanups = append(a.cleanups, func(context.Context) error { return orch.Close() })
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	log := logger.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil {
			log.Warn("Cleanup failed", "error", err)
		}
	}
	a.cleanups = nil
}
