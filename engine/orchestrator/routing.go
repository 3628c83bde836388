package orchestrator

import (
	"fmt"
	"strings"

	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/tidwall/gjson"
)

// Route is the set of sub-agents chosen for a question.
type Route string

const (
	RouteDocument Route = "DOCUMENT"
	RouteGraph    Route = "GRAPH"
	RouteBoth     Route = "BOTH"
)

const (
	ToolCallDocument = "call_document_agent"
	ToolCallGraph    = "call_graph_agent"
	ToolCallBoth     = "call_both_agents_parallel"

	defaultRouteRationale = "no routing tool called; defaulted to document search"
	maxRationaleWords     = 12
)

var routeByTool = map[string]Route{
	ToolCallDocument: RouteDocument,
	ToolCallGraph:    RouteGraph,
	ToolCallBoth:     RouteBoth,
}

// RoutingDecision is the audit record attached to every answer.
type RoutingDecision struct {
	Route      Route             `json:"route"`
	Rationale  string            `json:"rationale"`
	ToolCalled string            `json:"tool_called"`
	Queries    map[string]string `json:"queries"`
	Notes      string            `json:"notes,omitempty"`
}

// Validate enforces the audit contract: a known route and a non-empty rationale.
func (d RoutingDecision) Validate() error {
	if _, ok := map[Route]bool{RouteDocument: true, RouteGraph: true, RouteBoth: true}[d.Route]; !ok {
		return fmt.Errorf("unknown route %q", d.Route)
	}
	if strings.TrimSpace(d.Rationale) == "" {
		return fmt.Errorf("routing decision for %s has no rationale", d.Route)
	}
	return nil
}

func routingTools() []llmadapter.ToolDefinition {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The question to pass to the agent",
			},
			"rationale": map[string]any{
				"type":        "string",
				"description": "One-line reason for this route, at most twelve words",
			},
		},
		"required": []string{"question", "rationale"},
	}
	return []llmadapter.ToolDefinition{
		{
			Name:        ToolCallDocument,
			Description: "Answer from StackExchange discussions using text search.",
			Parameters:  params,
		},
		{
			Name:        ToolCallGraph,
			Description: "Answer from the StackExchange graph using read-only Cypher queries.",
			Parameters:  params,
		},
		{
			Name:        ToolCallBoth,
			Description: "Run the document and graph agents in parallel and combine their answers.",
			Parameters:  params,
		},
	}
}

// decide turns the routing response into a decision. The first routing tool
// call wins; anything else falls back to the document route.
func decide(question string, resp *llmadapter.LLMResponse) RoutingDecision {
	for _, call := range resp.ToolCalls {
		route, ok := routeByTool[call.Name]
		if !ok {
			continue
		}
		args := gjson.ParseBytes(call.Arguments)
		q := strings.TrimSpace(args.Get("question").String())
		if q == "" {
			q = question
		}
		d := RoutingDecision{
			Route:      route,
			Rationale:  clipWords(args.Get("rationale").String(), maxRationaleWords),
			ToolCalled: call.Name,
			Queries:    queriesFor(route, q),
		}
		if d.Rationale == "" {
			d.Rationale = fmt.Sprintf("routed to %s by %s", strings.ToLower(string(route)), call.Name)
			d.Notes = "routing call carried no rationale"
		}
		return d
	}
	return RoutingDecision{
		Route:      RouteDocument,
		Rationale:  defaultRouteRationale,
		ToolCalled: ToolCallDocument,
		Queries:    queriesFor(RouteDocument, question),
		Notes:      "router answered without a tool call",
	}
}

func queriesFor(route Route, q string) map[string]string {
	switch route {
	case RouteGraph:
		return map[string]string{"graph": q}
	case RouteBoth:
		return map[string]string{"document": q, "graph": q}
	default:
		return map[string]string{"document": q}
	}
}

func clipWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
