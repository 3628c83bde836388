package eval

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/compozy/ragrouter/engine/agent"
	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/compozy/ragrouter/engine/tools"
	"github.com/compozy/ragrouter/pkg/logger"
)

const questionPreview = 50

// Case is one ground truth entry.
type Case struct {
	Question        string   `json:"question"`
	ExpectedSources []string `json:"expected_sources"`
}

// Answerer is the system under evaluation.
type Answerer interface {
	Query(ctx context.Context, question string) (*orchestrator.SynthesizedAnswer, error)
}

// QuestionResult holds the metrics for one question. Failed questions score zero.
type QuestionResult struct {
	Question      string   `json:"question"`
	Route         string   `json:"route,omitempty"`
	Sources       []string `json:"sources_used"`
	HitRate       float64  `json:"hit_rate"`
	MRR           float64  `json:"mrr"`
	JudgeScore    float64  `json:"judge_score"`
	NumTokens     int      `json:"num_tokens"`
	CombinedScore float64  `json:"combined_score"`
	Error         string   `json:"error,omitempty"`
}

type Summary struct {
	AvgHitRate        float64 `json:"avg_hit_rate"`
	AvgMRR            float64 `json:"avg_mrr"`
	AvgJudgeScore     float64 `json:"avg_judge_score"`
	AvgNumTokens      float64 `json:"avg_num_tokens"`
	TotalTokens       int     `json:"total_tokens"`
	AvgCombinedScore  float64 `json:"avg_combined_score"`
	BestCombinedScore float64 `json:"best_combined_score"`
	Failed            int     `json:"failed"`
}

// Report is the file written after a run. Results are sorted best first.
type Report struct {
	Timestamp    time.Time         `json:"timestamp"`
	NumQuestions int               `json:"num_questions"`
	Summary      Summary           `json:"summary"`
	Results      []QuestionResult  `json:"results"`
	Cypher       []CypherScore     `json:"cypher,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Runner struct {
	answerer Answerer
	judge    *Judge
	weights  Weights
}

func NewRunner(answerer Answerer, judge *Judge, weights Weights) *Runner {
	return &Runner{answerer: answerer, judge: judge, weights: weights}
}

// LoadCases reads a ground truth JSON array.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ground truth %s: %w", path, err)
	}
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse ground truth %s: %w", path, err)
	}
	return cases, nil
}

// Run evaluates every case sequentially. A failing question is recorded with
// zero scores and does not stop the run.
func (r *Runner) Run(ctx context.Context, cases []Case) *Report {
	log := logger.FromContext(ctx)
	results := make([]QuestionResult, 0, len(cases))
	for i, c := range cases {
		if ctx.Err() != nil {
			break
		}
		log.Info("Evaluating question", "index", i+1, "total", len(cases), "question", preview(c.Question))
		res := r.evaluate(ctx, c)
		if res.Error != "" {
			log.Error("Question evaluation failed", "index", i+1, "error", res.Error)
		} else {
			log.Info("Question evaluated",
				"index", i+1, "hit_rate", res.HitRate, "mrr", res.MRR,
				"judge_score", res.JudgeScore, "combined_score", res.CombinedScore)
		}
		results = append(results, res)
	}
	return buildReport(results)
}

func (r *Runner) evaluate(ctx context.Context, c Case) QuestionResult {
	out := QuestionResult{Question: c.Question, Sources: []string{}}
	ans, err := r.answerer.Query(ctx, c.Question)
	if err != nil {
		out.Error = core.RedactError(err)
		return out
	}
	out.Route = string(ans.Routing.Route)
	out.Sources = ans.Sources
	out.HitRate = HitRate(c.ExpectedSources, ans.Sources)
	out.MRR = MRR(c.ExpectedSources, ans.Sources)
	judged := r.judge.Evaluate(ctx, JudgeInput{
		Question:  c.Question,
		Answer:    ans.Answer,
		Sources:   ans.Sources,
		ToolCalls: toolCalls(ans),
	})
	out.JudgeScore = judged.Evaluation.OverallScore
	out.NumTokens = ans.Usage.TotalTokens + judged.Usage.TotalTokens
	out.CombinedScore = CombinedScore(out.HitRate, out.JudgeScore, out.NumTokens, r.weights)
	return out
}

func toolCalls(ans *orchestrator.SynthesizedAnswer) []tools.Record {
	var out []tools.Record
	for _, tag := range []agent.Tag{agent.TagDocument, agent.TagGraph} {
		if res, ok := ans.Agents[tag]; ok && res != nil {
			out = append(out, res.ToolCalls...)
		}
	}
	return out
}

func buildReport(results []QuestionResult) *Report {
	slices.SortStableFunc(results, func(a, b QuestionResult) int {
		return cmp.Compare(b.CombinedScore, a.CombinedScore)
	})
	rep := &Report{Timestamp: time.Now().UTC(), NumQuestions: len(results), Results: results}
	if len(results) == 0 {
		return rep
	}
	n := float64(len(results))
	s := &rep.Summary
	for _, r := range results {
		s.AvgHitRate += r.HitRate
		s.AvgMRR += r.MRR
		s.AvgJudgeScore += r.JudgeScore
		s.TotalTokens += r.NumTokens
		s.AvgCombinedScore += r.CombinedScore
		s.BestCombinedScore = max(s.BestCombinedScore, r.CombinedScore)
		if r.Error != "" {
			s.Failed++
		}
	}
	s.AvgHitRate /= n
	s.AvgMRR /= n
	s.AvgJudgeScore /= n
	s.AvgNumTokens = float64(s.TotalTokens) / n
	s.AvgCombinedScore /= n
	return rep
}

// WriteReport writes rep as indented JSON, creating parent directories.
func WriteReport(path string, rep *Report) error {
	if filepath.Ext(path) != ".json" {
		path += ".json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// GraphAsker runs the graph agent alone.
type GraphAsker interface {
	Query(ctx context.Context, question string) (*agent.Result, error)
}

// LoadCypherCases reads a Cypher ground truth JSON array.
func LoadCypherCases(path string) ([]CypherCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cypher cases %s: %w", path, err)
	}
	var cases []CypherCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse cypher cases %s: %w", path, err)
	}
	return cases, nil
}

// RunCypher asks the graph agent each question and grades the query it settled on.
func RunCypher(ctx context.Context, asker GraphAsker, exec QueryExecutor, cases []CypherCase) []CypherScore {
	log := logger.FromContext(ctx)
	out := make([]CypherScore, 0, len(cases))
	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		res, err := asker.Query(ctx, c.Question)
		if err != nil {
			out = append(out, CypherScore{Question: c.Question, Error: core.RedactError(err)})
			continue
		}
		query := chosenQuery(res)
		score := ScoreQuery(ctx, exec, c, query)
		log.Info("Cypher case scored",
			"question", preview(c.Question), "valid", score.Valid,
			"result_match", score.ResultMatch, "efficiency", score.Efficiency)
		out = append(out, score)
	}
	return out
}

// chosenQuery prefers the query the agent reported, then its last accepted call.
func chosenQuery(res *agent.Result) string {
	if res.Answer.QueryUsed != "" {
		return res.Answer.QueryUsed
	}
	for i := len(res.ToolCalls) - 1; i >= 0; i-- {
		rec := res.ToolCalls[i]
		if rec.Tool == tools.CypherToolName && rec.Slot > 0 && rec.Query != "" {
			return rec.Query
		}
	}
	return ""
}

func preview(s string) string {
	if len(s) <= questionPreview {
		return s
	}
	return s[:questionPreview] + "..."
}
