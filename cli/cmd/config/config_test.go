package config

import (
	"bytes"
	"testing"

	"github.com/compozy/ragrouter/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	config.Service
	sources map[string]config.SourceType
}

func (f *fakeService) GetSource(key string) config.SourceType {
	if src, ok := f.sources[key]; ok {
		return src
	}
	return config.SourceDefault
}

func TestSources(t *testing.T) {
	t.Run("Should report only keys that left their defaults", func(t *testing.T) {
		svc := &fakeService{sources: map[string]config.SourceType{
			"llm.model":   config.SourceCLI,
			"server.port": config.SourceEnv,
		}}
		got := Sources(svc)
		assert.Equal(t, map[string]config.SourceType{
			"llm.model":   config.SourceCLI,
			"server.port": config.SourceEnv,
		}, got)
	})

	t.Run("Should return an empty map without a service", func(t *testing.T) {
		assert.Empty(t, Sources(nil))
	})
}

func TestShowCommand(t *testing.T) {
	t.Run("Should redact secrets in YAML output", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.APIKey = "sk-live-secret"
		c := newShowCommand()
		var out bytes.Buffer
		c.SetOut(&out)
		c.SetContext(config.ContextWithConfig(t.Context(), cfg))
		require.NoError(t, c.RunE(c, nil))
		assert.Contains(t, out.String(), "model: gpt-4o-mini")
		assert.NotContains(t, out.String(), "sk-live-secret")
	})
}

func TestWriteEnvTable(t *testing.T) {
	t.Run("Should sort by variable name", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeEnvTable(&buf, []config.EnvMapping{
			{EnvVar: "SERVER_PORT", ConfigPath: "server.port"},
			{EnvVar: "LLM_MODEL", ConfigPath: "llm.model"},
		}))
		out := buf.String()
		assert.Less(t, bytes.Index(buf.Bytes(), []byte("LLM_MODEL")), bytes.Index(buf.Bytes(), []byte("SERVER_PORT")))
		assert.Contains(t, out, "llm.model")
	})
}
