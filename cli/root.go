package cli

import (
	"fmt"

	askcmd "github.com/compozy/ragrouter/cli/cmd/ask"
	configcmd "github.com/compozy/ragrouter/cli/cmd/config"
	evalcmd "github.com/compozy/ragrouter/cli/cmd/eval"
	schemacmd "github.com/compozy/ragrouter/cli/cmd/schema"
	servecmd "github.com/compozy/ragrouter/cli/cmd/serve"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/compozy/ragrouter/pkg/version"
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragrouter",
		Short: "Route questions between document search and a knowledge graph",
		Long: `ragrouter answers questions with two retrieval agents: one searches a
document index, the other writes read-only Cypher against Neo4j. A routing
model picks one or both and merges their answers.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupCommand,
		Version:           version.Get().String(),
	}
	addPersistentFlags(root)
	root.AddCommand(
		askcmd.NewAskCommand(),
		servecmd.NewServeCommand(),
		evalcmd.NewEvalCommand(),
		schemacmd.NewSchemaCommand(),
		configcmd.NewConfigCommand(),
	)
	return root
}

func addPersistentFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.String("config", "ragrouter.yaml", "Path to the YAML config file")
	pf.String("env-file", ".env", "Path to a dotenv file")
	pf.String("log-level", string(logger.InfoLevel), "Log level (debug, info, warn, error, disabled)")
	pf.Bool("log-json", false, "Log as JSON")
	pf.Bool("log-source", false, "Include source locations in logs")
	for _, f := range overrideFlags {
		f.define(pf)
	}
}

// setupCommand installs the logger and the merged config on the command context.
func setupCommand(cobraCmd *cobra.Command, _ []string) error {
	logCfg, err := logger.GetLoggerConfig(cobraCmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(logCfg.Level, logCfg.JSON, logCfg.AddSource)
	ctx := logger.ContextWithLogger(cobraCmd.Context(), log)
	cfg, svc, err := loadConfig(ctx, cobraCmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ctx = config.ContextWithConfig(ctx, cfg)
	ctx = config.ContextWithService(ctx, svc)
	cobraCmd.SetContext(ctx)
	return nil
}
