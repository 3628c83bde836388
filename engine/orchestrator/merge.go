package orchestrator

import (
	"fmt"
	"strings"

	"github.com/compozy/ragrouter/engine/agent"
	"github.com/compozy/ragrouter/engine/core"
)

// errorAnswer stands in for a sub-agent that failed during a BOTH route.
func errorAnswer(tag agent.Tag, name string, err error) agent.Answer {
	return agent.Answer{
		Text:       fmt.Sprintf("%s encountered an error.", name),
		Confidence: 0,
		Sources:    []string{},
		Reasoning:  "Error: " + core.RedactError(err),
		Agent:      tag,
	}
}

// mergeSources is a de-duplicated union that keeps each list's order, document first.
func mergeSources(doc, graph []string) []string {
	out := make([]string, 0, len(doc)+len(graph))
	seen := make(map[string]struct{}, len(doc)+len(graph))
	for _, list := range [][]string{doc, graph} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// combinedConfidence averages the non-zero confidences.
func combinedConfidence(doc, graph float64) float64 {
	switch {
	case doc == 0:
		return graph
	case graph == 0:
		return doc
	default:
		return (doc + graph) / 2
	}
}

func mergeAnswers(doc, graph agent.Answer) (text, reasoning string) {
	text = strings.TrimSpace(fmt.Sprintf("%s\n\nGraph Analysis: %s", doc.Text, graph.Text))
	reasoning = fmt.Sprintf("Document agent: %s\nGraph agent: %s", doc.Reasoning, graph.Reasoning)
	return text, reasoning
}

func single(ans agent.Answer, decision RoutingDecision) (text, reasoning string) {
	reasoning = ans.Reasoning
	if strings.TrimSpace(reasoning) == "" {
		reasoning = decision.Rationale
	}
	return ans.Text, reasoning
}
