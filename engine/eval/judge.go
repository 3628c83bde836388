package eval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/compozy/ragrouter/engine/agent/prompts"
	"github.com/compozy/ragrouter/engine/core"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/tools"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
)

const (
	ErrCodeJudgeOutput = "JUDGE_OUTPUT_INVALID"

	defaultJudgeAttempts = 3
	defaultJudgeBackoff  = time.Second
)

// JudgeEvaluation is the rubric returned by the judge model.
type JudgeEvaluation struct {
	OverallScore float64 `json:"overall_score"`
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	Reasoning    string  `json:"reasoning"`
}

type JudgeResult struct {
	Evaluation JudgeEvaluation  `json:"evaluation"`
	Usage      llmadapter.Usage `json:"usage"`
}

// JudgeInput is what the judge sees for one answer.
type JudgeInput struct {
	Question  string
	Answer    string
	Sources   []string
	ToolCalls []tools.Record
}

type Judge struct {
	client   llmadapter.LLMClient
	attempts int
	backoff  time.Duration
	options  llmadapter.CallOptions
}

type JudgeOption func(*Judge)

func WithJudgeRetry(attempts int, backoff time.Duration) JudgeOption {
	return func(j *Judge) {
		if attempts > 0 {
			j.attempts = attempts
		}
		if backoff > 0 {
			j.backoff = backoff
		}
	}
}

func WithJudgeOptions(opts llmadapter.CallOptions) JudgeOption {
	return func(j *Judge) {
		j.options = opts
	}
}

func NewJudge(client llmadapter.LLMClient, opts ...JudgeOption) *Judge {
	j := &Judge{client: client, attempts: defaultJudgeAttempts, backoff: defaultJudgeBackoff}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Evaluate scores one answer. It never fails: once retries are exhausted it
// returns zero scores with the last error in the reasoning.
func (j *Judge) Evaluate(ctx context.Context, in JudgeInput) JudgeResult {
	log := logger.FromContext(ctx)
	system, err := prompts.Render(prompts.Judge, nil)
	if err != nil {
		return judgeFallback(err)
	}
	prompt, err := prompts.Render(prompts.JudgeRequest, in)
	if err != nil {
		return judgeFallback(err)
	}
	opts := j.options
	opts.UseJSONMode = true
	req := &llmadapter.LLMRequest{
		SystemPrompt: system,
		Messages:     []llmadapter.Message{{Role: llmadapter.RoleUser, Content: prompt}},
		Options:      opts,
	}
	backoff := retry.WithMaxRetries(uint64(j.attempts-1), retry.NewExponential(j.backoff)) // #nosec G115 -- attempts >= 1
	attempt := 0
	var out JudgeResult
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, callErr := j.client.GenerateContent(ctx, req)
		if callErr == nil {
			out, callErr = parseJudgeResponse(resp)
		}
		if callErr != nil {
			log.Warn("Judge evaluation attempt failed",
				"attempt", attempt, "max_attempts", j.attempts, "error", core.RedactError(callErr))
			return retry.RetryableError(callErr)
		}
		return nil
	})
	if err != nil {
		log.Error("Judge evaluation failed", "attempts", attempt, "error", core.RedactError(err))
		return judgeFallback(err)
	}
	log.Info("Judge evaluation complete",
		"overall_score", out.Evaluation.OverallScore, "total_tokens", out.Usage.TotalTokens)
	return out
}

func parseJudgeResponse(resp *llmadapter.LLMResponse) (JudgeResult, error) {
	raw := extractObject(resp.Content)
	if raw == "" {
		return JudgeResult{}, core.NewError(
			errors.New("judge returned no JSON object"), ErrCodeJudgeOutput, nil)
	}
	parsed := gjson.Parse(raw)
	if !parsed.Get("overall_score").Exists() {
		return JudgeResult{}, core.NewError(
			errors.New("judge output has no overall_score"), ErrCodeJudgeOutput, nil)
	}
	res := JudgeResult{Evaluation: JudgeEvaluation{
		OverallScore: unit(parsed.Get("overall_score").Float()),
		Accuracy:     unit(parsed.Get("accuracy").Float()),
		Completeness: unit(parsed.Get("completeness").Float()),
		Relevance:    unit(parsed.Get("relevance").Float()),
		Reasoning:    parsed.Get("reasoning").String(),
	}}
	if resp.Usage != nil {
		res.Usage = *resp.Usage
	}
	return res, nil
}

func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

func unit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func judgeFallback(err error) JudgeResult {
	return JudgeResult{Evaluation: JudgeEvaluation{
		Reasoning: "Judge evaluation failed: " + core.RedactError(err),
	}}
}
