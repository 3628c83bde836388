package eval

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/compozy/ragrouter/cli/cmd"
	"github.com/compozy/ragrouter/cli/helpers"
	"github.com/compozy/ragrouter/engine/eval"
	"github.com/compozy/ragrouter/engine/infra/app"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/pkg/config"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/spf13/cobra"
)

// NewEvalCommand scores the router against ground truth files.
func NewEvalCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate answers against ground truth",
		Long: `Ask every ground truth question, score retrieval with hit rate and MRR,
grade answers with the judge model and write a JSON report. With
--cypher-cases the graph agent's generated queries are graded too.`,
		Args: cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteWithApp(cobraCmd, args, runEval)
		},
	}
	c.Flags().String("ground-truth", "data/ground_truth.json", "Ground truth JSON file")
	c.Flags().String("cypher-cases", "", "Optional Cypher ground truth JSON file")
	c.Flags().String("output", "", "Report path (default reports/eval_<timestamp>.json)")
	c.Flags().Int("limit", 0, "Evaluate only the first N questions")
	c.Flags().String(helpers.FormatFlag, "auto", "Summary format: auto, json or text")
	return c
}

func runEval(ctx context.Context, cobraCmd *cobra.Command, a *app.App, _ []string) error {
	flags := cobraCmd.Flags()
	truthPath, _ := flags.GetString("ground-truth")
	cypherPath, _ := flags.GetString("cypher-cases")
	output, _ := flags.GetString("output")
	limit, _ := flags.GetInt("limit")

	cases, err := eval.LoadCases(truthPath)
	if err != nil {
		return err
	}
	if limit > 0 && limit < len(cases) {
		cases = cases[:limit]
	}
	judgeClient, err := app.NewJudgeClient(&a.Config.LLM)
	if err != nil {
		return err
	}
	defer judgeClient.Close()
	judge := eval.NewJudge(judgeClient,
		eval.WithJudgeRetry(a.Config.Eval.JudgeAttempts, a.Config.Eval.JudgeBackoff),
		eval.WithJudgeOptions(llmadapter.CallOptions{Temperature: 0}),
	)
	logger.FromContext(ctx).Info("Starting evaluation", "questions", len(cases))
	report := eval.NewRunner(a.Orchestrator, judge, Weights(&a.Config.Eval)).Run(ctx, cases)
	if cypherPath != "" {
		cypherCases, err := eval.LoadCypherCases(cypherPath)
		if err != nil {
			return err
		}
		report.Cypher = eval.RunCypher(ctx, a.Graph, a.Executor, cypherCases)
	}
	report.Metadata = Metadata(a.Config)
	if output == "" {
		output = DefaultReportPath(time.Now())
	}
	if err := eval.WriteReport(output, report); err != nil {
		return err
	}
	out := cobraCmd.OutOrStdout()
	if helpers.DetectMode(cobraCmd) == helpers.ModeJSON {
		return helpers.WriteJSON(out, map[string]any{"report": output, "summary": report.Summary})
	}
	renderSummary(out, output, report)
	return nil
}

func Weights(cfg *config.EvalConfig) eval.Weights {
	return eval.Weights{
		Alpha:        cfg.Alpha,
		Beta:         cfg.Beta,
		Gamma:        cfg.Gamma,
		TokenDivisor: cfg.TokenDivisor,
	}
}

// Metadata records the settings a report was produced with.
func Metadata(cfg *config.Config) map[string]string {
	return map[string]string{
		"provider":                cfg.LLM.Provider,
		"model":                   cfg.LLM.Model,
		"judge_model":             cfg.LLM.JudgeModel,
		"index_kind":              cfg.DocumentAgent.IndexKind,
		"num_results":             strconv.Itoa(cfg.DocumentAgent.NumResults),
		"document_initial_calls":  strconv.Itoa(cfg.DocumentAgent.InitialMaxToolCalls),
		"document_extended_calls": strconv.Itoa(cfg.DocumentAgent.ExtendedMaxToolCalls),
		"document_adaptive":       strconv.FormatBool(cfg.DocumentAgent.EnableAdaptiveLimit),
		"graph_initial_calls":     strconv.Itoa(cfg.GraphAgent.InitialMaxToolCalls),
	}
}

func DefaultReportPath(now time.Time) string {
	return filepath.Join("reports", "eval_"+now.UTC().Format("20060102_150405")+".json")
}

func renderSummary(w io.Writer, path string, rep *eval.Report) {
	s := rep.Summary
	fmt.Fprintln(w, helpers.TitleStyle.Render("Evaluation summary"))
	helpers.Field(w, "Questions", rep.NumQuestions)
	helpers.Field(w, "Failed", s.Failed)
	helpers.Field(w, "Avg hit rate", fmt.Sprintf("%.3f", s.AvgHitRate))
	helpers.Field(w, "Avg MRR", fmt.Sprintf("%.3f", s.AvgMRR))
	helpers.Field(w, "Avg judge score", fmt.Sprintf("%.3f", s.AvgJudgeScore))
	helpers.Field(w, "Avg tokens", fmt.Sprintf("%.0f", s.AvgNumTokens))
	helpers.Field(w, "Avg combined score", fmt.Sprintf("%.4f", s.AvgCombinedScore))
	if len(rep.Cypher) > 0 {
		valid := 0
		for _, c := range rep.Cypher {
			if c.Valid {
				valid++
			}
		}
		helpers.Field(w, "Valid Cypher", fmt.Sprintf("%d/%d", valid, len(rep.Cypher)))
	}
	helpers.Field(w, "Report", path)
}
