// Package models contains domain models for pricelearn.
package models

// DNATier classifies how widely a pattern holds across a business's categories.
type DNATier string

const (
	// TierUniversal patterns hold in at least the universal threshold share of categories.
	TierUniversal DNATier = "universal"
	// TierPartial patterns hold in the partial band and are tagged with their categories.
	TierPartial DNATier = "partial"
)

// DNAPattern is one cross-category pricing pattern extracted from a business's
// full learning history.
type DNAPattern struct {
	Target string       `json:"target"`
	Kind   LearningKind `json:"kind"`
	Tier   DNATier      `json:"tier"`
	// Direction is the shared adjustment direction (+1 above estimate, -1 below).
	Direction int `json:"direction"`
	// AvgAdjustment is the mean multiplicative factor across matching categories.
	AvgAdjustment float64 `json:"avg_adjustment"`
	RuleText      string  `json:"rule_text,omitempty"`
	// Categories lists where the pattern was observed. For partial patterns
	// this bounds where it may be transferred.
	Categories []string `json:"categories"`
	// Share is the fraction of analyzed categories exhibiting the pattern.
	Share float64 `json:"share"`
	// SourceConfidence is the mean confidence of the member learnings.
	SourceConfidence float64 `json:"source_confidence"`
}

// ContractorDNA is the derived cross-category pricing fingerprint of one
// business. It is regenerated from scratch on each DNA run and never
// hand-edited.
type ContractorDNA struct {
	BusinessID         string       `json:"business_id"`
	UniversalPatterns  []DNAPattern `json:"universal_patterns"`
	PartialPatterns    []DNAPattern `json:"partial_patterns"`
	CategoriesAnalyzed int          `json:"categories_analyzed"`
	// Bootstrapped counts learnings written into sparse categories this run.
	Bootstrapped     int   `json:"bootstrapped"`
	GeneratedAtEpoch int64 `json:"generated_at_epoch"`
}
