package quality

import "github.com/compozy/ragrouter/engine/retrieval"

const (
	MinRelevantScore = 0.2
	HighQualityScore = 0.35
	MinRelevantCount = 2

	relevantWeight = 0.5
	averageWeight  = 0.2
	highHitBonus   = 0.3
)

// Verdict summarizes one batch of retrieval results.
type Verdict struct {
	IsPoor            bool    `json:"is_poor"`
	QualityScore      float64 `json:"quality_score"`
	RelevantCount     int     `json:"relevant_count"`
	HasHighQualityHit bool    `json:"has_high_quality_hit"`
}

// Evaluate scores a batch of results. It is pure and never touches a budget.
func Evaluate(results []retrieval.Result) Verdict {
	if len(results) == 0 {
		return Verdict{IsPoor: true}
	}
	var (
		relevant int
		high     bool
		sum      float64
	)
	for i := range results {
		score := results[i].RelevanceScore
		sum += score
		if score >= MinRelevantScore {
			relevant++
		}
		if score >= HighQualityScore {
			high = true
		}
	}
	avg := sum / float64(len(results))
	score := min(1, float64(relevant)/MinRelevantCount)*relevantWeight + min(1, avg)*averageWeight
	if high {
		score += highHitBonus
	}
	return Verdict{
		IsPoor:            relevant < MinRelevantCount && !high,
		QualityScore:      min(1, score),
		RelevantCount:     relevant,
		HasHighQualityHit: high,
	}
}
