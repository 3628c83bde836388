package tools

import (
	"context"
	"encoding/json"

	"github.com/compozy/ragrouter/engine/cypher"
	"github.com/compozy/ragrouter/engine/graph"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/retrieval"
	"github.com/compozy/ragrouter/pkg/logger"
)

const CypherToolName = "execute_cypher_query"

// QueryExecutor runs a validated read-only query.
type QueryExecutor interface {
	Execute(ctx context.Context, query string) graph.QueryResult
}

// ValidationObserver is told about every validator verdict.
type ValidationObserver interface {
	QueryValidated(ctx context.Context, verdict cypher.Verdict)
}

type cypherArgs struct {
	Query string `json:"query"`
}

// CypherTool is the governed graph query tool. The slot is taken before
// validation, so a rejected query still counts as an attempt.
type CypherTool struct {
	executor QueryExecutor
	observer ValidationObserver
}

func NewCypherTool(executor QueryExecutor, observer ValidationObserver) *CypherTool {
	return &CypherTool{executor: executor, observer: observer}
}

func (t *CypherTool) Definition() llmadapter.ToolDefinition {
	return llmadapter.ToolDefinition{
		Name: CypherToolName,
		Description: "Execute a read-only Cypher query against the Neo4j graph. Returns " +
			"{results, query, error, truncated, summary}. Write clauses and GROUP BY are rejected; " +
			"use WITH and aggregation functions instead. The number of calls per question is limited.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Cypher query text"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *CypherTool) Call(ctx context.Context, scope *Scope, args json.RawMessage) (Outcome, error) {
	idx := scope.begin(CypherToolName, args)
	var in cypherArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return badArguments(ctx, err), nil
	}
	slot, denied, err := acquire(ctx, scope, CypherToolName, idx)
	if err != nil {
		return Outcome{}, err
	}
	if denied != nil {
		return *denied, nil
	}
	log := logger.FromContext(ctx).With("tool", CypherToolName, "slot", slot)
	verdict := cypher.Validate(in.Query)
	if t.observer != nil {
		t.observer.QueryValidated(ctx, verdict)
	}
	if !verdict.Accepted {
		log.Warn("Query validation failed", "reason", verdict.Reason, "message", verdict.Message)
		scope.guardrail(GuardrailValidationRejected, CypherToolName, string(verdict.Reason), in.Query)
		return Outcome{
			Payload: encode(ctx, graph.Failed(in.Query, verdict.Message)),
			Verdict: judge(ctx, scope, nil),
		}, nil
	}
	result := t.executor.Execute(ctx, in.Query)
	return Outcome{Payload: encode(ctx, result), Verdict: judge(ctx, scope, asResults(result))}, nil
}

// asResults maps graph records onto the evaluator's input. A record that came
// back is a hit; an error yields an empty batch.
func asResults(r graph.QueryResult) []retrieval.Result {
	if r.Error != nil {
		return nil
	}
	out := make([]retrieval.Result, 0, len(r.Results))
	for _, rec := range r.Results {
		data, _ := json.Marshal(rec)
		out = append(out, retrieval.Result{Content: string(data), RelevanceScore: 1})
	}
	return out
}

