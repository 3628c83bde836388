package ask

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/compozy/ragrouter/cli/cmd"
	"github.com/compozy/ragrouter/cli/helpers"
	"github.com/compozy/ragrouter/engine/agent"
	"github.com/compozy/ragrouter/engine/infra/app"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/spf13/cobra"
)

const (
	agentAuto     = "auto"
	agentDocument = "document"
	agentGraph    = "graph"
)

// NewAskCommand answers one question from the command line.
func NewAskCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question with the routed agents",
		Long: `Route a question to the document agent, the graph agent or both and
print the synthesized answer. Use --agent to query one sub-agent directly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteWithApp(cobraCmd, args, runAsk)
		},
	}
	c.Flags().String("agent", agentAuto, "Agent to query: auto, document or graph")
	c.Flags().String(helpers.FormatFlag, "auto", "Output format: auto, json or text")
	return c
}

func runAsk(ctx context.Context, cobraCmd *cobra.Command, a *app.App, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	target, err := cobraCmd.Flags().GetString("agent")
	if err != nil {
		return err
	}
	mode := helpers.DetectMode(cobraCmd)
	out := cobraCmd.OutOrStdout()
	switch target {
	case agentAuto:
		ans, err := a.Orchestrator.Query(ctx, question)
		if err != nil {
			return err
		}
		if mode == helpers.ModeJSON {
			return helpers.WriteJSON(out, ans)
		}
		renderAnswer(out, ans)
		return nil
	case agentDocument, agentGraph:
		sub := a.Document
		if target == agentGraph {
			sub = a.Graph
		}
		res, err := sub.Query(ctx, question)
		if err != nil {
			return err
		}
		if mode == helpers.ModeJSON {
			return helpers.WriteJSON(out, res)
		}
		renderAgentResult(out, sub.Name(), res)
		return nil
	default:
		return helpers.NewCliError("INVALID_FLAG", fmt.Sprintf("unknown --agent %q", target))
	}
}

func renderAnswer(w io.Writer, ans *orchestrator.SynthesizedAnswer) {
	fmt.Fprintln(w, helpers.TitleStyle.Render("Answer"))
	fmt.Fprintln(w, ans.Answer)
	fmt.Fprintln(w)
	helpers.Field(w, "Route", ans.Routing.Route)
	helpers.Field(w, "Rationale", ans.Routing.Rationale)
	helpers.Field(w, "Agents", joinTags(ans.AgentsUsed))
	helpers.Field(w, "Sources", strings.Join(ans.Sources, ", "))
	helpers.Field(w, "Confidence", fmt.Sprintf("%.2f", ans.Confidence))
	helpers.Field(w, "Tokens", ans.Usage.TotalTokens)
	helpers.Field(w, "Duration", ans.Duration.Round(time.Millisecond))
}

func renderAgentResult(w io.Writer, name string, res *agent.Result) {
	fmt.Fprintln(w, helpers.TitleStyle.Render(name))
	fmt.Fprintln(w, res.Answer.Text)
	fmt.Fprintln(w)
	helpers.Field(w, "Sources", strings.Join(res.Answer.Sources, ", "))
	if res.Answer.QueryUsed != "" {
		helpers.Field(w, "Query", res.Answer.QueryUsed)
	}
	helpers.Field(w, "Tool calls", fmt.Sprintf("%d/%d", res.Budget.CallsMade, res.Budget.CurrentLimit))
	helpers.Field(w, "Tokens", res.Usage.TotalTokens)
}

func joinTags(tags []agent.Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
