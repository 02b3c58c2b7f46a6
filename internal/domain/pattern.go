package domain

import "time"

// SynthesisMetrics are the observed success metrics attached to a
// PatternCandidate.
type SynthesisMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// PatternCandidate is created after a successful synthesis and lives until
// it is promoted (spec §4.7/§4.11).
type PatternCandidate struct {
	SignatureHash uint64           `json:"signature_hash"`
	Domain        string           `json:"domain"`
	Artifact      string           `json:"artifact"`
	Metrics       SynthesisMetrics `json:"metrics"`
	UsageCount    int              `json:"usage_count"`
	SuccessCount  int              `json:"success_count"`
	CreatedAt     time.Time        `json:"created_at"`
}

// SuccessRate is success_count / usage_count, 0 when unused.
func (c PatternCandidate) SuccessRate() float64 {
	if c.UsageCount == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(c.UsageCount)
}

// Pattern is a promoted candidate, queryable by vector similarity.
type Pattern struct {
	SignatureHash uint64    `json:"signature_hash"`
	Domain        string    `json:"domain"`
	Artifact      string    `json:"artifact"`
	Embedding     []float32 `json:"embedding"`
	SuccessRate   float64   `json:"success_rate"`
	UsageCount    int       `json:"usage_count"`
	PromotedAt    time.Time `json:"promoted_at"`
}

// PatternHit is one ranked result from find_similar.
type PatternHit struct {
	Pattern Pattern `json:"pattern"`
	Score   float64 `json:"score"`
}
