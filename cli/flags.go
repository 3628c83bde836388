package cli

import (
	"context"
	"time"

	"github.com/compozy/ragrouter/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// overrideFlag maps a persistent flag onto a dotted config key.
type overrideFlag struct {
	name  string
	key   string
	usage string
	kind  flagKind
}

type flagKind int

const (
	kindString flagKind = iota
	kindInt
	kindBool
	kindDuration
)

var overrideFlags = []overrideFlag{
	{"provider", "llm.provider", "LLM provider (openai, anthropic, ollama)", kindString},
	{"model", "llm.model", "Model used by the router and both agents", kindString},
	{"judge-model", "llm.judge_model", "Model used to grade answers in eval", kindString},
	{"index-kind", "document_agent.index_kind", "Document index backend (text, vector)", kindString},
	{"num-results", "document_agent.num_results", "Documents returned per search", kindInt},
	{"adaptive", "document_agent.enable_adaptive_limit", "Let the document agent extend its tool budget", kindBool},
	{"query-timeout", "orchestrator.query_timeout", "Timeout for one orchestrated question", kindDuration},
	{"run-log", "orchestrator.run_log", "Persist runs to Postgres", kindBool},
	{"host", "server.host", "HTTP listen host", kindString},
	{"port", "server.port", "HTTP listen port", kindInt},
}

func (f overrideFlag) define(pf *pflag.FlagSet) {
	switch f.kind {
	case kindInt:
		pf.Int(f.name, 0, f.usage)
	case kindBool:
		pf.Bool(f.name, false, f.usage)
	case kindDuration:
		pf.Duration(f.name, 0, f.usage)
	default:
		pf.String(f.name, "", f.usage)
	}
}

func (f overrideFlag) value(fs *pflag.FlagSet) (any, error) {
	switch f.kind {
	case kindInt:
		return fs.GetInt(f.name)
	case kindBool:
		return fs.GetBool(f.name)
	case kindDuration:
		return fs.GetDuration(f.name)
	default:
		return fs.GetString(f.name)
	}
}

// extractCLIFlags collects only the flags the user actually set.
func extractCLIFlags(c *cobra.Command) map[string]any {
	out := make(map[string]any)
	for _, f := range overrideFlags {
		if !c.Flags().Changed(f.name) {
			continue
		}
		if v, err := f.value(c.Flags()); err == nil {
			if d, ok := v.(time.Duration); ok {
				v = d.String()
			}
			out[f.key] = v
		}
	}
	return out
}

func loadConfig(ctx context.Context, c *cobra.Command) (*config.Config, config.Service, error) {
	configFile, err := c.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	envFile, err := c.Flags().GetString("env-file")
	if err != nil {
		return nil, nil, err
	}
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	svc := config.NewService(envFiles...)
	sources := []config.Source{}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	if flags := extractCLIFlags(c); len(flags) > 0 {
		sources = append(sources, config.NewCLIProvider(flags))
	}
	cfg, err := svc.Load(ctx, sources...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}
