package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/compozy/ragrouter/engine/core"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/retrieval"
	"github.com/compozy/ragrouter/pkg/logger"
)

const (
	SearchToolName    = "search_documents"
	DefaultNumResults = 5
	maxNumResults     = 50
)

type searchArgs struct {
	Query      string   `json:"query"`
	Tags       []string `json:"tags"`
	NumResults int      `json:"num_results"`
}

type searchPayload struct {
	Results []retrieval.Result `json:"results"`
	Error   *string            `json:"error"`
}

// SearchTool runs governed searches against one retrieval index.
type SearchTool struct {
	index      retrieval.Index
	numResults int
}

func NewSearchTool(index retrieval.Index, numResults int) *SearchTool {
	if numResults <= 0 {
		numResults = DefaultNumResults
	}
	return &SearchTool{index: index, numResults: numResults}
}

func (t *SearchTool) Definition() llmadapter.ToolDefinition {
	return llmadapter.ToolDefinition{
		Name: SearchToolName,
		Description: "Search StackExchange questions and answers. Returns results with content, " +
			"source (question_<id>), title, similarity_score and tags. The number of calls per question is limited.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query text"},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional tags to filter by",
				},
				"num_results": map[string]any{"type": "integer", "description": "Number of results to return"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *SearchTool) Call(ctx context.Context, scope *Scope, args json.RawMessage) (Outcome, error) {
	idx := scope.begin(SearchToolName, args)
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return badArguments(ctx, err), nil
	}
	if strings.TrimSpace(in.Query) == "" {
		return badArguments(ctx, errors.New("query is required")), nil
	}
	slot, denied, err := acquire(ctx, scope, SearchToolName, idx)
	if err != nil {
		return Outcome{}, err
	}
	if denied != nil {
		return *denied, nil
	}
	req := retrieval.Search{Query: in.Query, Tags: in.Tags, NumResults: t.limit(in.NumResults)}
	log := logger.FromContext(ctx).With("tool", SearchToolName, "slot", slot, "index", t.index.Kind())
	results, err := t.index.Search(ctx, req)
	if err != nil {
		msg := "Search service unavailable: " + core.RedactError(err)
		log.Error("Search failed", "error", msg)
		return Outcome{
			Payload: encode(ctx, searchPayload{Results: []retrieval.Result{}, Error: &msg}),
			Verdict: judge(ctx, scope, nil),
		}, nil
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	for _, r := range results {
		scope.addSources(r.SourceID)
	}
	verdict := judge(ctx, scope, results)
	log.Info("Search completed",
		"results", len(results), "quality_score", verdict.QualityScore, "is_poor", verdict.IsPoor)
	return Outcome{Payload: encode(ctx, searchPayload{Results: results}), Verdict: verdict}, nil
}

func (t *SearchTool) limit(requested int) int {
	switch {
	case requested <= 0:
		return t.numResults
	case requested > maxNumResults:
		return maxNumResults
	default:
		return requested
	}
}
