package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/compozy/ragrouter/cli/cmd"
	"github.com/compozy/ragrouter/engine/infra/app"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/compozy/ragrouter/pkg/version"
	"github.com/compozy/ragrouter/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// NewServeCommand starts the HTTP API.
func NewServeCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP API",
		Long:    "Serve POST /api/v0/query, the run log endpoints, /health and the metrics endpoint.",
		Args:    cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cobraCmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cobraCmd.SetContext(ctx)
			return cmd.ExecuteWithApp(cobraCmd, args, runServe)
		},
	}
	c.Flags().Bool("debug", false, "Run gin in debug mode")
	return c
}

func runServe(ctx context.Context, cobraCmd *cobra.Command, a *app.App, _ []string) error {
	if debug, _ := cobraCmd.Flags().GetBool("debug"); !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := server.Deps{
		Query:        a.Orchestrator,
		Monitoring:   a.Monitoring,
		Checks:       healthChecks(a.Checks),
		Version:      version.Version,
		QueryTimeout: a.Config.Orchestrator.QueryTimeout,
	}
	if a.RunLog != nil {
		deps.RunLog = a.RunLog
	}
	srv, err := server.New(ctx, &a.Config.Server, deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	logger.FromContext(ctx).Info("Starting ragrouter server", "addr", srv.Addr())
	return srv.Run(ctx)
}

func healthChecks(in map[string]func(context.Context) error) map[string]server.HealthCheck {
	out := make(map[string]server.HealthCheck, len(in))
	for name, fn := range in {
		out[name] = fn
	}
	return out
}
