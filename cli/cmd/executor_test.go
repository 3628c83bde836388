package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/compozy/ragrouter/cli/helpers"
	"github.com/compozy/ragrouter/engine/infra/app"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand(ctx context.Context) (*cobra.Command, *bytes.Buffer) {
	c := &cobra.Command{Use: "test"}
	c.Flags().String(helpers.FormatFlag, "json", "")
	var stderr bytes.Buffer
	c.SetErr(&stderr)
	c.SetContext(ctx)
	return c, &stderr
}

func TestExecuteWithApp(t *testing.T) {
	t.Run("Should hand the built app to the handler", func(t *testing.T) {
		prev := buildApp
		t.Cleanup(func() { buildApp = prev })
		built := &app.App{}
		buildApp = func(context.Context, *config.Config) (*app.App, error) { return built, nil }

		c, _ := newTestCommand(config.ContextWithConfig(t.Context(), config.Default()))
		var got *app.App
		err := ExecuteWithApp(c, nil, func(_ context.Context, _ *cobra.Command, a *app.App, _ []string) error {
			got = a
			return nil
		})
		require.NoError(t, err)
		assert.Same(t, built, got)
	})

	t.Run("Should print build failures", func(t *testing.T) {
		prev := buildApp
		t.Cleanup(func() { buildApp = prev })
		buildApp = func(context.Context, *config.Config) (*app.App, error) {
			return nil, errors.New("dial tcp: connection refused")
		}
		c, stderr := newTestCommand(config.ContextWithConfig(t.Context(), config.Default()))
		err := ExecuteWithApp(c, nil, func(context.Context, *cobra.Command, *app.App, []string) error {
			t.Fatal("handler must not run")
			return nil
		})
		var cliErr *helpers.CliError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "NETWORK_ERROR", cliErr.Code)
		assert.Contains(t, stderr.String(), "NETWORK_ERROR")
	})
}
