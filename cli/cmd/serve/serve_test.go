package serve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecks(t *testing.T) {
	t.Run("Should keep every named check", func(t *testing.T) {
		boom := errors.New("down")
		out := healthChecks(map[string]func(context.Context) error{
			"postgres": func(context.Context) error { return nil },
			"neo4j":    func(context.Context) error { return boom },
		})
		require.Len(t, out, 2)
		require.NoError(t, out["postgres"](t.Context()))
		assert.ErrorIs(t, out["neo4j"](t.Context()), boom)
	})

	t.Run("Should return an empty map for no checks", func(t *testing.T) {
		assert.Empty(t, healthChecks(nil))
	})
}
