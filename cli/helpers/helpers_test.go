package helpers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	t.Run("Should keep an existing CliError", func(t *testing.T) {
		in := NewCliError("MISSING_FLAG", "flag missing")
		assert.Same(t, in, Categorize(fmt.Errorf("wrap: %w", in)))
	})

	t.Run("Should map cancellation and timeouts", func(t *testing.T) {
		assert.Equal(t, "OPERATION_CANCELED", Categorize(context.Canceled).Code)
		assert.Equal(t, "OPERATION_TIMEOUT", Categorize(fmt.Errorf("ask: %w", context.DeadlineExceeded)).Code)
	})

	t.Run("Should detect network failures by message", func(t *testing.T) {
		err := errors.New("dial tcp 127.0.0.1:7687: connect: connection refused")
		assert.Equal(t, "NETWORK_ERROR", Categorize(err).Code)
	})

	t.Run("Should surface domain error codes", func(t *testing.T) {
		err := core.NewError(errors.New("no agent answered"), "ALL_AGENTS_FAILED", nil)
		assert.Equal(t, "ALL_AGENTS_FAILED", Categorize(err).Code)
	})

	t.Run("Should return nil for nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil))
	})
}

func TestFormatError(t *testing.T) {
	t.Run("Should print JSON errors with a code", func(t *testing.T) {
		out := FormatError(NewCliError("EMPTY_QUESTION", "question is empty"), ModeJSON)
		assert.Contains(t, out, `"code": "EMPTY_QUESTION"`)
		assert.Contains(t, out, `"message": "question is empty"`)
	})

	t.Run("Should write and return the categorized error", func(t *testing.T) {
		var buf bytes.Buffer
		err := OutputError(&buf, context.Canceled, ModeText)
		var cliErr *CliError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "OPERATION_CANCELED", cliErr.Code)
		assert.Contains(t, buf.String(), "Operation was canceled")
	})
}

func TestDetectMode(t *testing.T) {
	t.Run("Should honor an explicit format flag", func(t *testing.T) {
		cmd := &cobra.Command{Use: "x"}
		cmd.Flags().String(FormatFlag, "auto", "")
		require.NoError(t, cmd.Flags().Set(FormatFlag, "text"))
		assert.Equal(t, ModeText, DetectMode(cmd))
		require.NoError(t, cmd.Flags().Set(FormatFlag, "json"))
		assert.Equal(t, ModeJSON, DetectMode(cmd))
	})

	t.Run("Should fall back to JSON outside a terminal", func(t *testing.T) {
		t.Setenv("CI", "true")
		assert.Equal(t, ModeJSON, DetectMode(nil))
	})
}

func TestWriteYAML(t *testing.T) {
	t.Run("Should use json field names", func(t *testing.T) {
		var buf bytes.Buffer
		v := struct {
			TotalCost float64 `json:"total_cost"`
		}{TotalCost: 1.5}
		require.NoError(t, WriteYAML(&buf, v))
		assert.Equal(t, "total_cost: 1.5\n", buf.String())
	})
}
