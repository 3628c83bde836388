package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIProvider_Load(t *testing.T) {
	t.Run("Should nest dotted flag keys", func(t *testing.T) {
		data, err := NewCLIProvider(map[string]any{
			"server.port":                         8080,
			"graph_agent.initial_max_tool_calls":  2,
			"graph_agent.extended_max_tool_calls": 4,
			"document_agent.index_kind":           nil,
		}).Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"port": 8080}, data["server"])
		graph, ok := data["graph_agent"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 2, graph["initial_max_tool_calls"])
		assert.NotContains(t, data, "document_agent")
	})

	t.Run("Should report the CLI source type", func(t *testing.T) {
		assert.Equal(t, SourceCLI, NewCLIProvider(nil).Type())
	})
}

func TestGenerateEnvToConfigMap(t *testing.T) {
	t.Run("Should map tagged env vars to nested paths", func(t *testing.T) {
		m := GenerateEnvToConfigMap()
		assert.Equal(t, "document_agent.initial_max_tool_calls", m["DOCUMENT_AGENT_INITIAL_MAX_TOOL_CALLS"])
		assert.Equal(t, "neo4j.password", m["NEO4J_PASSWORD"])
		assert.Equal(t, "eval.judge_backoff", m["EVAL_JUDGE_BACKOFF"])
	})
}
