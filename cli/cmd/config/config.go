package config

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/compozy/ragrouter/cli/cmd"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/spf13/cobra"

	"github.com/compozy/ragrouter/cli/helpers"
)

// NewConfigCommand groups configuration diagnostics.
func NewConfigCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Configuration management and diagnostics",
	}
	c.AddCommand(newShowCommand(), newValidateCommand(), newEnvCommand())
	return c
}

func newShowCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Print the configuration after defaults, the YAML file, the environment and
flags were merged. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, args, runShow)
		},
	}
	c.Flags().StringP("output", "o", "yaml", "Output format (json, yaml)")
	c.Flags().BoolP("sources", "s", false, "Show which source set each value")
	return c
}

func runShow(ctx context.Context, cobraCmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(ctx)
	format, _ := cobraCmd.Flags().GetString("output")
	withSources, _ := cobraCmd.Flags().GetBool("sources")
	out := cobraCmd.OutOrStdout()
	payload := map[string]any{"config": cfg}
	if withSources {
		payload["sources"] = Sources(config.ServiceFromContext(ctx))
	}
	switch format {
	case "json":
		return helpers.WriteJSON(out, payload)
	case "yaml":
		return helpers.WriteYAML(out, payload)
	default:
		return helpers.NewCliError("INVALID_FLAG", fmt.Sprintf("unsupported output format %q", format))
	}
}

// Sources lists every key not left at its default with the layer that set it.
func Sources(svc config.Service) map[string]config.SourceType {
	out := make(map[string]config.SourceType)
	if svc == nil {
		return out
	}
	for _, m := range config.GenerateEnvMappings() {
		if src := svc.GetSource(m.ConfigPath); src != "" && src != config.SourceDefault {
			out[m.ConfigPath] = src
		}
	}
	return out
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, args, func(ctx context.Context, c *cobra.Command, _ []string) error {
				svc := config.ServiceFromContext(ctx)
				if svc == nil {
					svc = config.NewService()
				}
				if err := svc.Validate(config.FromContext(ctx)); err != nil {
					return helpers.NewCliError("INVALID_CONFIG", "configuration validation failed", err.Error())
				}
				fmt.Fprintln(c.OutOrStdout(), "Configuration is valid")
				return nil
			})
		},
	}
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables each setting reads",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, args, func(_ context.Context, c *cobra.Command, _ []string) error {
				return writeEnvTable(c.OutOrStdout(), config.GenerateEnvMappings())
			})
		},
	}
}

func writeEnvTable(w io.Writer, mappings []config.EnvMapping) error {
	sorted := slices.Clone(mappings)
	slices.SortFunc(sorted, func(a, b config.EnvMapping) int {
		switch {
		case a.EnvVar < b.EnvVar:
			return -1
		case a.EnvVar > b.EnvVar:
			return 1
		}
		return 0
	})
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENV\tKEY")
	for _, m := range sorted {
		fmt.Fprintf(tw, "%s\t%s\n", m.EnvVar, m.ConfigPath)
	}
	return tw.Flush()
}
