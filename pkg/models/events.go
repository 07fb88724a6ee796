// Package models contains domain models for pricelearn.
package models

// CorrectionLine is one edited line item in a quote correction diff.
type CorrectionLine struct {
	Target          string  `json:"target"`
	OriginalAmount  float64 `json:"original_amount"`
	CorrectedAmount float64 `json:"corrected_amount"`
	Note            string  `json:"note,omitempty"`
}

// CorrectionEvent is a business's correction to a generated quote.
type CorrectionEvent struct {
	BusinessID      string           `json:"business_id"`
	Category        string           `json:"category"`
	QuoteID         string           `json:"quote_id,omitempty"`
	JobSubType      string           `json:"job_sub_type,omitempty"`
	Lines           []CorrectionLine `json:"lines"`
	FreeText        string           `json:"free_text,omitempty"`
	QuoteTotal      float64          `json:"quote_total,omitempty"`
	OccurredAtEpoch int64            `json:"occurred_at_epoch,omitempty"`
}

// CandidateLearning is a structured learning statement produced by the
// extraction service (or the structural fallback) before quality scoring.
type CandidateLearning struct {
	Target string       `json:"target"`
	Kind   LearningKind `json:"kind"`
	// Adjustment is a multiplicative factor (1.20 = +20%), matching Learning.
	Adjustment  float64 `json:"adjustment,omitempty"`
	RuleText    string  `json:"rule_text,omitempty"`
	AppliesWhen string  `json:"applies_when,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	// SupportingExamples is how many correction lines back this statement.
	SupportingExamples int `json:"supporting_examples,omitempty"`
	// ImpactDollars is the absolute dollar magnitude of the correction behind it.
	ImpactDollars float64 `json:"impact_dollars,omitempty"`
	JobSubType    string  `json:"job_sub_type,omitempty"`
}

// OutcomeType classifies a quote outcome signal.
type OutcomeType string

const (
	// OutcomeWonUnedited means the quote was sent without edits and won.
	OutcomeWonUnedited OutcomeType = "sent_without_edit_won"
	// OutcomeLostUnedited means the quote was sent without edits and lost.
	OutcomeLostUnedited OutcomeType = "sent_without_edit_lost"
	// OutcomeEdited means the quote was corrected before sending; routed to
	// the correction pipeline.
	OutcomeEdited OutcomeType = "sent_with_edit"
)

// Valid reports whether the outcome type is one of the known values.
func (t OutcomeType) Valid() bool {
	switch t {
	case OutcomeWonUnedited, OutcomeLostUnedited, OutcomeEdited:
		return true
	}
	return false
}

// OutcomeEvent is a quote outcome signal for the acceptance learner.
type OutcomeEvent struct {
	BusinessID string      `json:"business_id"`
	Category   string      `json:"category"`
	QuoteID    string      `json:"quote_id,omitempty"`
	Type       OutcomeType `json:"type"`
	// ActiveLearningIDs are the learnings injected when the quote was generated.
	ActiveLearningIDs []string `json:"active_learning_ids,omitempty"`
	// Correction carries the diff for sent_with_edit outcomes.
	Correction      *CorrectionEvent `json:"correction,omitempty"`
	OccurredAtEpoch int64            `json:"occurred_at_epoch,omitempty"`
}

// IngestResult summarizes how a correction event was absorbed.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Merged   int `json:"merged"`
	// Review counts candidates stored with the low-confidence flag.
	Review int `json:"review"`
}

// InjectionContext is the bounded, ranked learning subset handed to the quote
// generation caller. Both the structured map and the prose summary are
// returned; the caller decides how to render them.
type InjectionContext struct {
	BusinessID string `json:"business_id"`
	Category   string `json:"category"`
	// Adjustments maps line item targets to multiplicative factors.
	Adjustments map[string]float64 `json:"adjustments"`
	// Rules are injectable category rule statements.
	Rules []string `json:"rules,omitempty"`
	// Summary is a short natural-language pattern summary.
	Summary   string      `json:"summary,omitempty"`
	Learnings []*Learning `json:"learnings,omitempty"`

	OverallConfidence float64 `json:"overall_confidence"`
	ReviewFlag        bool    `json:"review_flag,omitempty"`
	TokenCount        int     `json:"token_count"`
}

// DeadLetter is an event that exhausted its retries and awaits manual review.
type DeadLetter struct {
	ID         int64  `db:"id" json:"id"`
	BusinessID string `db:"business_id" json:"business_id"`
	Category   string `db:"category" json:"category"`
	Kind       string `db:"kind" json:"kind"` // "correction" or "outcome"
	Payload    string `db:"payload" json:"payload"`
	Reason     string `db:"reason" json:"reason"`
	AtEpoch    int64  `db:"at_epoch" json:"at_epoch"`
}
