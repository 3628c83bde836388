package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/tidwall/gjson"
)

// Tag identifies which sub-agent produced an answer.
type Tag string

const (
	TagDocument Tag = "document"
	TagGraph    Tag = "graph"
)

const (
	// LimitReachedConfidence is used when the loop ends on a spent budget without a parseable answer.
	LimitReachedConfidence = 0.5
	unstructuredConfidence = 0.3
)

// Answer is the normalized output of one sub-agent.
type Answer struct {
	Text       string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources_used"`
	Reasoning  string   `json:"reasoning,omitempty"`
	QueryUsed  string   `json:"query_used,omitempty"`
	Agent      Tag      `json:"agent"`
}

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// parseAnswer extracts the structured answer from model text. ok is false
// when no JSON object with an answer field is present.
func parseAnswer(content string) (Answer, bool) {
	text := strings.TrimSpace(content)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !gjson.Valid(text) {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return Answer{}, false
		}
		text = text[start : end+1]
		if !gjson.Valid(text) {
			return Answer{}, false
		}
	}
	parsed := gjson.Parse(text)
	if !parsed.IsObject() || !parsed.Get("answer").Exists() {
		return Answer{}, false
	}
	var out Answer
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		// tolerate loosely typed fields such as a string confidence
		out = Answer{
			Text:       parsed.Get("answer").String(),
			Confidence: parsed.Get("confidence").Float(),
			Reasoning:  parsed.Get("reasoning").String(),
			QueryUsed:  parsed.Get("query_used").String(),
		}
		for _, s := range parsed.Get("sources_used").Array() {
			out.Sources = append(out.Sources, s.String())
		}
	}
	out.Confidence = clampConfidence(out.Confidence)
	return out, true
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func limitFallback(calls, limit int, sources []string) Answer {
	return Answer{
		Text: fmt.Sprintf(
			"Agent completed %d searches and reached the maximum limit of %d. "+
				"Answer synthesized from the %d search results obtained.",
			calls, limit, calls,
		),
		Confidence: LimitReachedConfidence,
		Sources:    sources,
		Reasoning:  fmt.Sprintf("Completed %d searches. Maximum limit of %d searches reached.", calls, limit),
	}
}

func unstructured(content string, sources []string) Answer {
	text := strings.TrimSpace(content)
	if text == "" {
		return Answer{
			Text:      "No answer was produced.",
			Sources:   sources,
			Reasoning: "The model returned an empty response.",
		}
	}
	return Answer{
		Text:       text,
		Confidence: unstructuredConfidence,
		Sources:    sources,
		Reasoning:  "The model returned unstructured text instead of the JSON answer format.",
	}
}

// filterSources keeps only ids matching pattern, preserving order and dropping duplicates.
func filterSources(ctx context.Context, pattern *regexp.Regexp, sources []string) []string {
	out := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	var dropped []string
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		if pattern != nil && !pattern.MatchString(s) {
			dropped = append(dropped, s)
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(dropped) > 0 {
		logger.FromContext(ctx).Warn("Dropped sources that are not node or question identifiers",
			"dropped", dropped, "kept", len(out))
	}
	return out
}
