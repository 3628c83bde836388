package ask

import (
	"bytes"
	"testing"
	"time"

	"github.com/compozy/ragrouter/engine/agent"
	"github.com/compozy/ragrouter/engine/governor"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/stretchr/testify/assert"
)

func TestRenderAnswer(t *testing.T) {
	t.Run("Should print the answer with routing details", func(t *testing.T) {
		var buf bytes.Buffer
		renderAnswer(&buf, &orchestrator.SynthesizedAnswer{
			Answer:     "Use incremental builds.",
			Confidence: 0.75,
			AgentsUsed: []agent.Tag{agent.TagDocument, agent.TagGraph},
			Sources:    []string{"question_1", "node_2"},
			Routing:    orchestrator.RoutingDecision{Route: orchestrator.RouteBoth, Rationale: "needs both"},
			Usage:      llmadapter.Usage{TotalTokens: 1234},
			Duration:   1500 * time.Millisecond,
		})
		out := buf.String()
		assert.Contains(t, out, "Use incremental builds.")
		assert.Contains(t, out, "needs both")
		assert.Contains(t, out, "question_1, node_2")
		assert.Contains(t, out, "0.75")
		assert.Contains(t, out, "1.5s")
	})
}

func TestRenderAgentResult(t *testing.T) {
	t.Run("Should include the query the graph agent used", func(t *testing.T) {
		var buf bytes.Buffer
		renderAgentResult(&buf, agent.GraphAgentName, &agent.Result{
			Answer: agent.Answer{Text: "Three tags.", Sources: []string{"node_3"}, QueryUsed: "MATCH (t:Tag) RETURN t"},
			Budget: governor.CallBudget{CallsMade: 2, CurrentLimit: 5},
		})
		out := buf.String()
		assert.Contains(t, out, "Three tags.")
		assert.Contains(t, out, "MATCH (t:Tag) RETURN t")
		assert.Contains(t, out, "2/5")
	})
}
