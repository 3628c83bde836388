package cmd

import (
	"context"

	"github.com/compozy/ragrouter/cli/helpers"
	"github.com/compozy/ragrouter/engine/infra/app"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/spf13/cobra"
)

// HandlerFunc runs a command against a fully built application.
type HandlerFunc func(ctx context.Context, cobraCmd *cobra.Command, a *app.App, args []string) error

// Builder is swapped in tests.
type Builder func(ctx context.Context, cfg *config.Config) (*app.App, error)

var buildApp Builder = app.Build

// ExecuteWithApp builds the application from the context config, runs handler
// and closes every backend afterwards. Errors are printed in the detected mode.
func ExecuteWithApp(cobraCmd *cobra.Command, args []string, handler HandlerFunc) error {
	return ExecuteCommand(cobraCmd, args, func(ctx context.Context, cobraCmd *cobra.Command, args []string) error {
		a, err := buildApp(ctx, config.FromContext(ctx))
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))
		return handler(ctx, cobraCmd, a, args)
	})
}

// ExecuteCommand runs handler and prints its error, if any.
func ExecuteCommand(
	cobraCmd *cobra.Command,
	args []string,
	handler func(ctx context.Context, cobraCmd *cobra.Command, args []string) error,
) error {
	ctx := cobraCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err := handler(ctx, cobraCmd, args)
	return helpers.OutputError(cobraCmd.ErrOrStderr(), err, helpers.DetectMode(cobraCmd))
}
