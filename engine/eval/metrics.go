package eval

import (
	"math"
	"strings"
)

// Weights are the exponents of the combined score.
type Weights struct {
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	Gamma        float64 `json:"gamma"`
	TokenDivisor float64 `json:"token_divisor"`
}

func DefaultWeights() Weights {
	return Weights{Alpha: 2.0, Beta: 0.5, Gamma: 1.5, TokenDivisor: 1000}
}

func normalizeSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HitRate is 1 when any expected source appears in actual, otherwise 0.
func HitRate(expected, actual []string) float64 {
	if len(expected) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(expected))
	for _, s := range expected {
		want[normalizeSource(s)] = struct{}{}
	}
	for _, s := range actual {
		if _, ok := want[normalizeSource(s)]; ok {
			return 1
		}
	}
	return 0
}

// MRR is the reciprocal rank of the first expected source in actual.
func MRR(expected, actual []string) float64 {
	if len(expected) == 0 || len(actual) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(expected))
	for _, s := range expected {
		want[normalizeSource(s)] = struct{}{}
	}
	for i, s := range actual {
		if _, ok := want[normalizeSource(s)]; ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// CombinedScore is hit^alpha * judge^gamma / (tokens/divisor)^beta.
// Non-positive token counts are treated as a single token.
func CombinedScore(hitRate, judgeScore float64, tokens int, w Weights) float64 {
	if tokens <= 0 {
		tokens = 1
	}
	if w.TokenDivisor <= 0 {
		w.TokenDivisor = DefaultWeights().TokenDivisor
	}
	denominator := math.Pow(float64(tokens)/w.TokenDivisor, w.Beta)
	if denominator <= 0 {
		return 0
	}
	return math.Pow(hitRate, w.Alpha) * math.Pow(judgeScore, w.Gamma) / denominator
}
