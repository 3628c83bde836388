package agent

import (
	"context"
	"fmt"
	"regexp"

	"github.com/compozy/ragrouter/engine/agent/prompts"
	"github.com/compozy/ragrouter/engine/governor"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/tools"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/compozy/ragrouter/pkg/logger"
)

const (
	DocumentAgentName = "document_agent"
	GraphAgentName    = "graph_agent"
)

func callOptions(llm *config.LLMConfig) llmadapter.CallOptions {
	return llmadapter.CallOptions{Temperature: llm.Temperature, MaxTokens: int32(llm.MaxTokens)}
}

// DocumentDefinition builds the document agent around a search tool.
func DocumentDefinition(cfg *config.Config, tool tools.Tool) Definition {
	return Definition{
		Tag:      TagDocument,
		Name:     DocumentAgentName,
		Template: prompts.DocumentAgent,
		Tool:     tool,
		Limits: governor.Limits{
			Initial:  cfg.DocumentAgent.InitialMaxToolCalls,
			Extended: cfg.DocumentAgent.ExtendedMaxToolCalls,
			Adaptive: cfg.DocumentAgent.EnableAdaptiveLimit,
		},
		Options: callOptions(&cfg.LLM),
	}
}

// GraphDefinition builds the graph agent around a Cypher tool. Sources are
// filtered by the configured identifier pattern.
func GraphDefinition(cfg *config.Config, tool tools.Tool, schema SchemaSource) (Definition, error) {
	def := Definition{
		Tag:      TagGraph,
		Name:     GraphAgentName,
		Template: prompts.GraphAgent,
		Tool:     tool,
		Limits: governor.Limits{
			Initial:  cfg.GraphAgent.InitialMaxToolCalls,
			Extended: cfg.GraphAgent.ExtendedMaxToolCalls,
			Adaptive: cfg.GraphAgent.EnableAdaptiveLimit,
		},
		Schema:  schema,
		Options: callOptions(&cfg.LLM),
	}
	if cfg.GraphAgent.SourcePattern != "" {
		re, err := regexp.Compile(cfg.GraphAgent.SourcePattern)
		if err != nil {
			return Definition{}, fmt.Errorf("invalid graph source pattern: %w", err)
		}
		def.SourcePattern = re
	}
	return def, nil
}

// WarnOnLimitAsymmetry logs when the two agents are governed differently.
func WarnOnLimitAsymmetry(ctx context.Context, doc, graph governor.Limits) bool {
	docAdaptive := doc.Adaptive && doc.Extended > doc.Initial
	graphAdaptive := graph.Adaptive && graph.Extended > graph.Initial
	if docAdaptive == graphAdaptive {
		return false
	}
	logger.FromContext(ctx).Warn("Document and graph agents use different adaptive limit policies",
		"document_initial", doc.Initial, "document_extended", doc.Extended, "document_adaptive", docAdaptive,
		"graph_initial", graph.Initial, "graph_extended", graph.Extended, "graph_adaptive", graphAdaptive)
	return true
}
