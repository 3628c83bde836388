package schema

import (
	"context"
	"fmt"

	"github.com/compozy/ragrouter/cli/cmd"
	"github.com/compozy/ragrouter/cli/helpers"
	"github.com/compozy/ragrouter/engine/graph"
	"github.com/compozy/ragrouter/engine/infra/cache"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewSchemaCommand prints the graph schema the graph agent is prompted with.
func NewSchemaCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "schema",
		Short: "Print the Neo4j schema summary used in graph prompts",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, args, runSchema)
		},
	}
	c.Flags().Bool("refresh", false, "Drop the cached schema before fetching")
	c.Flags().String(helpers.FormatFlag, "auto", "Output format: auto, json or text")
	return c
}

func runSchema(ctx context.Context, cobraCmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(ctx)
	nc := cfg.Neo4j
	runner, err := graph.NewNeo4jRunner(ctx, nc.URI, nc.User, nc.Password.Value(), nc.Database)
	if err != nil {
		return err
	}
	defer runner.Close(context.WithoutCancel(ctx))
	rc, closeCache := schemaCache(ctx, &cfg.Redis)
	defer closeCache()
	provider := graph.NewSchemaProvider(runner, rc, graph.SchemaOptions{
		Database:  nc.Database,
		MaxTokens: nc.MaxSchemaTokens,
		CacheTTL:  nc.SchemaCacheTTL,
	})
	if refresh, _ := cobraCmd.Flags().GetBool("refresh"); refresh {
		if err := provider.Invalidate(ctx); err != nil {
			return err
		}
	}
	text := provider.Schema(ctx)
	out := cobraCmd.OutOrStdout()
	if helpers.DetectMode(cobraCmd) == helpers.ModeJSON {
		return helpers.WriteJSON(out, map[string]string{"database": nc.Database, "schema": text})
	}
	fmt.Fprintln(out, helpers.TitleStyle.Render("Schema of "+nc.Database))
	fmt.Fprintln(out, text)
	return nil
}

func schemaCache(ctx context.Context, rc *config.RedisConfig) (redis.UniversalClient, func()) {
	if rc.Addr == "" {
		return nil, func() {}
	}
	r, err := cache.NewRedis(ctx, &cache.Config{Addr: rc.Addr, Password: rc.Password.Value(), DB: rc.DB})
	if err != nil {
		logger.FromContext(ctx).Warn("Redis unavailable, reading schema without cache", "error", err)
		return nil, func() {}
	}
	return r.Client(), func() { _ = r.Close() }
}
