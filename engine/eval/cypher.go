package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/compozy/ragrouter/engine/cypher"
	"github.com/compozy/ragrouter/engine/graph"
)

const (
	jaccardWeight = 0.7
	lengthWeight  = 0.3

	fastQuery = 100 * time.Millisecond
	slowQuery = 10 * time.Second
)

// CompareResults scores how close actual is to expected: Jaccard overlap of
// normalized records weighted 0.7 plus a record count penalty weighted 0.3.
func CompareResults(expected, actual []graph.Record) float64 {
	switch {
	case len(expected) == 0 && len(actual) == 0:
		return 1
	case len(expected) == 0 || len(actual) == 0:
		return 0
	}
	want := recordSet(expected)
	got := recordSet(actual)
	inter := 0
	for k := range got {
		if _, ok := want[k]; ok {
			inter++
		}
	}
	union := len(want) + len(got) - inter
	if union == 0 {
		return 0
	}
	jaccard := float64(inter) / float64(union)
	longest := math.Max(float64(max(len(expected), len(actual))), 1)
	penalty := 1 - math.Abs(float64(len(expected)-len(actual)))/longest
	return jaccard*jaccardWeight + penalty*lengthWeight
}

// recordSet keys each record by its JSON encoding; map keys encode sorted.
func recordSet(records []graph.Record) map[string]struct{} {
	out := make(map[string]struct{}, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			out[fmt.Sprint(r)] = struct{}{}
			continue
		}
		out[string(b)] = struct{}{}
	}
	return out
}

// QueryEfficiency maps an execution time to [0,1]; anything at or under
// 100ms is perfect and anything at or over 10s scores zero.
func QueryEfficiency(d time.Duration) float64 {
	switch {
	case d <= fastQuery:
		return 1
	case d >= slowQuery:
		return 0
	}
	eff := 1 - math.Sqrt(d.Seconds()/slowQuery.Seconds())
	return math.Max(0, math.Min(1, eff))
}

// QueryExecutor runs one read-only query.
type QueryExecutor interface {
	Execute(ctx context.Context, query string) graph.QueryResult
}

// CypherCase pairs a question with the records a correct query returns.
type CypherCase struct {
	Question string         `json:"question"`
	Cypher   string         `json:"cypher"`
	Expected []graph.Record `json:"expected_results"`
}

// CypherScore grades one generated query.
type CypherScore struct {
	Question    string  `json:"question"`
	Query       string  `json:"query"`
	Valid       bool    `json:"valid"`
	Rejection   string  `json:"rejection,omitempty"`
	ResultMatch float64 `json:"result_match"`
	Efficiency  float64 `json:"efficiency"`
	DurationMS  int64   `json:"duration_ms"`
	Error       string  `json:"error,omitempty"`
}

// ScoreQuery validates and runs query, then compares its records with the case.
// Rejected queries are never executed.
func ScoreQuery(ctx context.Context, exec QueryExecutor, c CypherCase, query string) CypherScore {
	score := CypherScore{Question: c.Question, Query: query}
	verdict := cypher.Validate(query)
	if !verdict.Accepted {
		score.Rejection = string(verdict.Reason)
		return score
	}
	score.Valid = true
	started := time.Now()
	res := exec.Execute(ctx, query)
	elapsed := time.Since(started)
	score.DurationMS = elapsed.Milliseconds()
	if res.Error != nil {
		score.Error = *res.Error
		return score
	}
	score.ResultMatch = CompareResults(c.Expected, res.Results)
	score.Efficiency = QueryEfficiency(elapsed)
	return score
}
