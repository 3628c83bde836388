package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/compozy/ragrouter/pkg/logger"
)

const (
	DefaultMaxQueryResults   = 100
	DefaultMaxToolResultSize = 50000
)

// QueryResult is the payload returned to the model for one Cypher call.
type QueryResult struct {
	Results   []Record `json:"results"`
	Query     string   `json:"query"`
	Error     *string  `json:"error"`
	Truncated bool     `json:"truncated"`
	Summary   *string  `json:"summary"`
}

// Failed builds an error payload with no records.
func Failed(query, msg string) QueryResult {
	return QueryResult{Results: []Record{}, Query: query, Error: &msg}
}

// Executor bounds what a single Cypher call can hand back to the model.
type Executor struct {
	runner     Runner
	maxResults int
	maxSize    int
}

func NewExecutor(runner Runner, maxResults, maxSize int) *Executor {
	if maxResults <= 0 {
		maxResults = DefaultMaxQueryResults
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxToolResultSize
	}
	return &Executor{runner: runner, maxResults: maxResults, maxSize: maxSize}
}

// Execute runs an already validated query. Upstream failures come back as
// payload errors, never as Go errors.
func (e *Executor) Execute(ctx context.Context, query string) QueryResult {
	log := logger.FromContext(ctx)
	records, more, err := e.runner.Run(ctx, query, e.maxResults)
	if err != nil {
		msg := ErrorMessage(err)
		log.Error("Cypher execution failed", "kind", Classify(err), "error", msg)
		return Failed(query, msg)
	}
	out := QueryResult{Results: records, Query: query}
	if more {
		summary := fmt.Sprintf(
			"Results truncated to %d records. Add a LIMIT clause to your query to control result size.",
			e.maxResults,
		)
		out.Truncated = true
		out.Summary = &summary
		log.Warn("Cypher result limit reached", "max_results", e.maxResults)
	}
	e.fitSize(ctx, &out)
	log.Info("Cypher query executed", "records", len(out.Results), "truncated", out.Truncated)
	return out
}

// fitSize drops trailing records until the JSON encoding fits maxSize.
func (e *Executor) fitSize(ctx context.Context, out *QueryResult) {
	encoded, err := json.Marshal(out.Results)
	if err != nil || len(encoded) <= e.maxSize || len(out.Results) == 0 {
		return
	}
	perRecord := float64(len(encoded)) / float64(len(out.Results))
	keep := int(float64(e.maxSize) / perRecord)
	for keep > 0 {
		encoded, err = json.Marshal(out.Results[:keep])
		if err == nil && len(encoded) <= e.maxSize {
			break
		}
		keep--
	}
	logger.FromContext(ctx).Warn("Cypher result exceeds size limit",
		"max_size", e.maxSize, "records_kept", keep, "records_total", len(out.Results))
	out.Results = out.Results[:keep]
	out.Truncated = true
	summary := fmt.Sprintf(
		"Results truncated to %d records due to size limit. Result size: %d chars.",
		keep, len(encoded),
	)
	if keep == 0 {
		summary = fmt.Sprintf("Results omitted: a single record exceeds the %d char limit.", e.maxSize)
	}
	out.Summary = &summary
}
