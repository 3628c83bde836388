package retrieval

import (
	"context"
	"fmt"
)

// Result is one hit returned by a retrieval tool call. It is treated as immutable once returned.
type Result struct {
	Content        string   `json:"content"`
	SourceID       string   `json:"source"`
	Title          string   `json:"title,omitempty"`
	RelevanceScore float64  `json:"similarity_score"`
	Tags           []string `json:"tags,omitempty"`
}

// Kind tags the backing index implementation.
type Kind string

const (
	KindText   Kind = "text"
	KindVector Kind = "vector"
)

func (k Kind) Validate() error {
	switch k {
	case KindText, KindVector:
		return nil
	default:
		return fmt.Errorf("unknown retrieval index kind %q", k)
	}
}

// Search is the request shape of the search tool.
type Search struct {
	Query      string
	Tags       []string
	NumResults int
}

// Index is implemented once per index kind.
type Index interface {
	Kind() Kind
	Search(ctx context.Context, req Search) ([]Result, error)
}

// ClampScore bounds a relevance score to [0,1].
func ClampScore(score float64) float64 {
	switch {
	case score <= 0:
		return 0
	case score >= 1:
		return 1
	default:
		return score
	}
}
