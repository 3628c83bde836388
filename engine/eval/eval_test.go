package eval

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/compozy/ragrouter/engine/agent"
	"github.com/compozy/ragrouter/engine/graph"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/compozy/ragrouter/engine/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitRate(t *testing.T) {
	t.Run("Should match case-insensitively after trimming", func(t *testing.T) {
		assert.Equal(t, 1.0, HitRate([]string{" Question_1 "}, []string{"question_9", "question_1"}))
	})
	t.Run("Should be zero without overlap or expectations", func(t *testing.T) {
		assert.Zero(t, HitRate([]string{"question_1"}, []string{"question_2"}))
		assert.Zero(t, HitRate(nil, []string{"question_2"}))
	})
}

func TestMRR(t *testing.T) {
	t.Run("Should use the rank of the first expected source", func(t *testing.T) {
		assert.InDelta(t, 1.0/3, MRR([]string{"c", "b"}, []string{"a", "x", "C", "b"}), 1e-9)
		assert.Equal(t, 1.0, MRR([]string{"a"}, []string{"a"}))
	})
	t.Run("Should be zero for empty inputs or no match", func(t *testing.T) {
		assert.Zero(t, MRR(nil, []string{"a"}))
		assert.Zero(t, MRR([]string{"a"}, nil))
		assert.Zero(t, MRR([]string{"a"}, []string{"b"}))
	})
}

func TestCombinedScore(t *testing.T) {
	w := DefaultWeights()
	t.Run("Should apply the default exponents", func(t *testing.T) {
		// 1^2 * 0.64^1.5 / (4000/1000)^0.5 = 0.512 / 2
		assert.InDelta(t, 0.256, CombinedScore(1, 0.64, 4000, w), 1e-9)
	})
	t.Run("Should treat non-positive tokens as one token", func(t *testing.T) {
		want := 1 / math.Sqrt(1.0/1000)
		assert.InDelta(t, want, CombinedScore(1, 1, 0, w), 1e-9)
		assert.InDelta(t, want, CombinedScore(1, 1, -5, w), 1e-9)
	})
	t.Run("Should be zero on a miss", func(t *testing.T) {
		assert.Zero(t, CombinedScore(0, 0.9, 1000, w))
	})
}

func TestCompareResults(t *testing.T) {
	t.Run("Should score two empty sets as identical", func(t *testing.T) {
		assert.Equal(t, 1.0, CompareResults(nil, nil))
	})
	t.Run("Should score one empty side as zero", func(t *testing.T) {
		assert.Zero(t, CompareResults([]graph.Record{{"n": 1}}, nil))
		assert.Zero(t, CompareResults(nil, []graph.Record{{"n": 1}}))
	})
	t.Run("Should ignore key order inside records", func(t *testing.T) {
		exp := []graph.Record{{"a": 1, "b": "x"}}
		act := []graph.Record{{"b": "x", "a": 1}}
		assert.InDelta(t, 1.0, CompareResults(exp, act), 1e-9)
	})
	t.Run("Should weight overlap and length", func(t *testing.T) {
		exp := []graph.Record{{"n": 1}, {"n": 2}}
		act := []graph.Record{{"n": 2}, {"n": 3}, {"n": 4}}
		// jaccard 1/4, length 1 - 1/3
		assert.InDelta(t, 0.25*0.7+(2.0/3)*0.3, CompareResults(exp, act), 1e-9)
	})
}

func TestQueryEfficiency(t *testing.T) {
	t.Run("Should bound fast and slow queries", func(t *testing.T) {
		assert.Equal(t, 1.0, QueryEfficiency(0))
		assert.Equal(t, 1.0, QueryEfficiency(100*time.Millisecond))
		assert.Zero(t, QueryEfficiency(10*time.Second))
		assert.Zero(t, QueryEfficiency(time.Minute))
	})
	t.Run("Should decay with the square root in between", func(t *testing.T) {
		assert.InDelta(t, 1-math.Sqrt(0.25), QueryEfficiency(2500*time.Millisecond), 1e-9)
	})
}

type fakeExecutor struct {
	result graph.QueryResult
	calls  int
}

func (f *fakeExecutor) Execute(_ context.Context, query string) graph.QueryResult {
	f.calls++
	res := f.result
	res.Query = query
	return res
}

func TestScoreQuery(t *testing.T) {
	c := CypherCase{Question: "How many tags?", Expected: []graph.Record{{"count": 42}}}

	t.Run("Should never execute a rejected query", func(t *testing.T) {
		exec := &fakeExecutor{}
		score := ScoreQuery(t.Context(), exec, c, "MATCH (n) DELETE n")
		assert.False(t, score.Valid)
		assert.Equal(t, "FORBIDDEN_WRITE_OP", score.Rejection)
		assert.Zero(t, exec.calls)
	})
	t.Run("Should compare executed records with the case", func(t *testing.T) {
		exec := &fakeExecutor{result: graph.QueryResult{Results: []graph.Record{{"count": 42}}}}
		score := ScoreQuery(t.Context(), exec, c, "MATCH (t:Tag) RETURN count(t) AS count")
		assert.True(t, score.Valid)
		assert.InDelta(t, 1.0, score.ResultMatch, 1e-9)
		assert.Equal(t, 1.0, score.Efficiency)
	})
	t.Run("Should report upstream errors", func(t *testing.T) {
		exec := &fakeExecutor{result: graph.Failed("", "Neo4j service unavailable")}
		score := ScoreQuery(t.Context(), exec, c, "MATCH (t:Tag) RETURN t")
		assert.Equal(t, "Neo4j service unavailable", score.Error)
		assert.Zero(t, score.ResultMatch)
	})
}

type scriptedJudge struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []llmadapter.LLMRequest
}

func (s *scriptedJudge) GenerateContent(_ context.Context, req *llmadapter.LLMRequest) (*llmadapter.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, *req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	reply := `{"overall_score":0.5}`
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return &llmadapter.LLMResponse{
		Content: reply,
		Usage:   &llmadapter.Usage{PromptTokens: 80, CompletionTokens: 20, TotalTokens: 100},
	}, nil
}

func (s *scriptedJudge) Close() error { return nil }

func TestJudge_Evaluate(t *testing.T) {
	input := JudgeInput{
		Question: "How do I speed up builds?",
		Answer:   "Use incremental builds.",
		Sources:  []string{"question_1"},
		ToolCalls: []tools.Record{
			{Tool: tools.SearchToolName, Arguments: []byte(`{"query":"slow builds"}`)},
		},
	}

	t.Run("Should parse a fenced rubric and clamp scores", func(t *testing.T) {
		client := &scriptedJudge{replies: []string{
			"```json\n{\"overall_score\":0.8,\"accuracy\":1.4,\"completeness\":\"0.6\",\"relevance\":-1,\"reasoning\":\"fine\"}\n```",
		}}
		res := NewJudge(client).Evaluate(t.Context(), input)
		assert.InDelta(t, 0.8, res.Evaluation.OverallScore, 1e-9)
		assert.Equal(t, 1.0, res.Evaluation.Accuracy)
		assert.InDelta(t, 0.6, res.Evaluation.Completeness, 1e-9)
		assert.Zero(t, res.Evaluation.Relevance)
		assert.Equal(t, 100, res.Usage.TotalTokens)
		require.Len(t, client.requests, 1)
		prompt := client.requests[0].Messages[0].Content
		assert.Contains(t, prompt, "question_1")
		assert.Contains(t, prompt, "search_documents")
		assert.True(t, client.requests[0].Options.UseJSONMode)
	})

	t.Run("Should retry malformed output", func(t *testing.T) {
		client := &scriptedJudge{
			replies: []string{"", "not json", `{"overall_score":0.9}`},
			errs:    []error{errors.New("timeout")},
		}
		res := NewJudge(client, WithJudgeRetry(3, time.Millisecond)).Evaluate(t.Context(), input)
		assert.InDelta(t, 0.9, res.Evaluation.OverallScore, 1e-9)
		assert.Len(t, client.requests, 3)
	})

	t.Run("Should fall back to zero scores after the last attempt", func(t *testing.T) {
		boom := errors.New("provider down")
		client := &scriptedJudge{errs: []error{boom, boom}}
		res := NewJudge(client, WithJudgeRetry(2, time.Millisecond)).Evaluate(t.Context(), input)
		assert.Zero(t, res.Evaluation.OverallScore)
		assert.True(t, strings.HasPrefix(res.Evaluation.Reasoning, "Judge evaluation failed: "))
		assert.Contains(t, res.Evaluation.Reasoning, "provider down")
		assert.Zero(t, res.Usage.TotalTokens)
		assert.Len(t, client.requests, 2)
	})
}

type fakeAnswerer struct {
	answers map[string]*orchestrator.SynthesizedAnswer
}

func (f *fakeAnswerer) Query(_ context.Context, q string) (*orchestrator.SynthesizedAnswer, error) {
	if ans, ok := f.answers[q]; ok {
		return ans, nil
	}
	return nil, errors.New("agent crashed")
}

func TestRunner_Run(t *testing.T) {
	t.Run("Should score, sort and summarize every case", func(t *testing.T) {
		answerer := &fakeAnswerer{answers: map[string]*orchestrator.SynthesizedAnswer{
			"good": {
				Answer:  "yes",
				Sources: []string{"question_1", "question_2"},
				Usage:   llmadapter.Usage{TotalTokens: 900},
				Routing: orchestrator.RoutingDecision{Route: orchestrator.RouteDocument},
				Agents: map[agent.Tag]*agent.Result{
					agent.TagDocument: {ToolCalls: []tools.Record{{Tool: tools.SearchToolName}}},
				},
			},
			"miss": {Answer: "no", Sources: []string{"question_9"}, Usage: llmadapter.Usage{TotalTokens: 400}},
		}}
		judge := NewJudge(&scriptedJudge{}, WithJudgeRetry(1, time.Millisecond))
		runner := NewRunner(answerer, judge, DefaultWeights())
		rep := runner.Run(t.Context(), []Case{
			{Question: "miss", ExpectedSources: []string{"question_1"}},
			{Question: "good", ExpectedSources: []string{"question_2"}},
			{Question: "broken", ExpectedSources: []string{"question_1"}},
		})

		require.Len(t, rep.Results, 3)
		assert.Equal(t, 3, rep.NumQuestions)
		best := rep.Results[0]
		assert.Equal(t, "good", best.Question)
		assert.Equal(t, "DOCUMENT", best.Route)
		assert.Equal(t, 1.0, best.HitRate)
		assert.InDelta(t, 0.5, best.MRR, 1e-9)
		assert.Equal(t, 1000, best.NumTokens)
		assert.InDelta(t, CombinedScore(1, 0.5, 1000, DefaultWeights()), best.CombinedScore, 1e-9)
		assert.Equal(t, 1, rep.Summary.Failed)
		assert.Equal(t, 1000+500, rep.Summary.TotalTokens)
		assert.InDelta(t, best.CombinedScore, rep.Summary.BestCombinedScore, 1e-9)
		assert.InDelta(t, 1.0/3, rep.Summary.AvgHitRate, 1e-9)
		var broken QuestionResult
		for _, r := range rep.Results {
			if r.Question == "broken" {
				broken = r
			}
		}
		assert.Equal(t, "agent crashed", broken.Error)
		assert.Zero(t, broken.CombinedScore)
	})
}

func TestReportFiles(t *testing.T) {
	t.Run("Should round trip ground truth and write a report", func(t *testing.T) {
		dir := t.TempDir()
		gt := filepath.Join(dir, "ground_truth.json")
		require.NoError(t, os.WriteFile(gt,
			[]byte(`[{"question":"q1","expected_sources":["question_1"]}]`), 0o600))
		cases, err := LoadCases(gt)
		require.NoError(t, err)
		require.Equal(t, []Case{{Question: "q1", ExpectedSources: []string{"question_1"}}}, cases)

		out := filepath.Join(dir, "results", "evaluation")
		require.NoError(t, WriteReport(out, buildReport(nil)))
		data, err := os.ReadFile(out + ".json")
		require.NoError(t, err)
		assert.Contains(t, string(data), `"num_questions": 0`)
	})

	t.Run("Should fail on a missing ground truth file", func(t *testing.T) {
		_, err := LoadCases(filepath.Join(t.TempDir(), "none.json"))
		require.Error(t, err)
	})
}

type fakeGraphAsker struct{ res *agent.Result }

func (f *fakeGraphAsker) Query(context.Context, string) (*agent.Result, error) { return f.res, nil }

func TestRunCypher(t *testing.T) {
	t.Run("Should grade the last accepted cypher call when no query is reported", func(t *testing.T) {
		asker := &fakeGraphAsker{res: &agent.Result{ToolCalls: []tools.Record{
			{Tool: tools.CypherToolName, Query: "MATCH (a) RETURN a", Slot: 1},
			{Tool: tools.CypherToolName, Query: "MATCH (t:Tag) RETURN count(t) AS count", Slot: 2},
			{Tool: tools.CypherToolName, Query: "MATCH (x) RETURN x", Denied: true},
		}}}
		exec := &fakeExecutor{result: graph.QueryResult{Results: []graph.Record{{"count": 42}}}}
		scores := RunCypher(t.Context(), asker, exec, []CypherCase{
			{Question: "How many tags?", Expected: []graph.Record{{"count": 42}}},
		})
		require.Len(t, scores, 1)
		assert.Equal(t, "MATCH (t:Tag) RETURN count(t) AS count", scores[0].Query)
		assert.InDelta(t, 1.0, scores[0].ResultMatch, 1e-9)
	})
}
