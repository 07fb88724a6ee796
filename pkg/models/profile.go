// Package models contains domain models for pricelearn.
package models

// ConfidenceDimensions holds the four calibrated confidence dimensions,
// each in [0.0, 1.0].
type ConfidenceDimensions struct {
	// Data saturates with the total number of reinforcing correction samples.
	Data float64 `db:"confidence_data" json:"data"`
	// Accuracy reflects how small recent correction magnitudes were relative
	// to the original estimates.
	Accuracy float64 `db:"confidence_accuracy" json:"accuracy"`
	// Recency decays exponentially from the last reinforcement.
	Recency float64 `db:"confidence_recency" json:"recency"`
	// Coverage measures how evenly corrections spread across job sub-types.
	Coverage float64 `db:"confidence_coverage" json:"coverage"`
}

// AcceptanceStats tracks real-world quote outcomes for a category.
type AcceptanceStats struct {
	TotalSent             int   `db:"total_sent" json:"total_sent"`
	TotalAccepted         int   `db:"total_accepted" json:"total_accepted"`
	LastAcceptanceAtEpoch int64 `db:"last_acceptance_at_epoch" json:"last_acceptance_at_epoch,omitempty"`
}

// PriceRange is the observed quote total range, used to sanity-check future quotes.
type PriceRange struct {
	Min float64 `db:"price_min" json:"min"`
	Max float64 `db:"price_max" json:"max"`
}

// CorrectionSample is one observed correction, kept in a bounded window on the
// profile for accuracy, coverage and contradiction calculations.
type CorrectionSample struct {
	Target           string  `json:"target"`
	Direction        int     `json:"direction"`
	Magnitude        float64 `json:"magnitude"`
	OriginalEstimate float64 `json:"original_estimate"`
	JobSubType       string  `json:"job_sub_type,omitempty"`
	AtEpoch          int64   `json:"at_epoch"`
}

// LossRecord is one lost quote and the learnings that were active at send time.
type LossRecord struct {
	QuoteID     string   `json:"quote_id"`
	LearningIDs []string `json:"learning_ids"`
	AtEpoch     int64    `json:"at_epoch"`
}

// MaxCorrectionWindow bounds the RecentCorrections ring on a profile.
const MaxCorrectionWindow = 20

// MaxLossWindow bounds the RecentLosses ring on a profile.
const MaxLossWindow = 10

// CategoryProfile is the per-business, per-category aggregate of learnings
// plus calibrated confidence. It is the only mutable shared resource in the
// engine and is owned exclusively by the learning store.
type CategoryProfile struct {
	BusinessID string      `db:"business_id" json:"business_id"`
	Category   string      `db:"category" json:"category"`
	Learnings  []*Learning `db:"-" json:"learnings"`

	Confidence        ConfidenceDimensions `json:"confidence_dimensions"`
	OverallConfidence float64              `db:"overall_confidence" json:"overall_confidence"`
	// ConfidenceBoost accumulates outcome-driven boosts (+0.05 won, +0.02 per
	// accepted correction) so recalibration does not erase them.
	ConfidenceBoost float64 `db:"confidence_boost" json:"confidence_boost,omitempty"`

	Acceptance AcceptanceStats `json:"acceptance_stats"`
	PriceRange PriceRange      `json:"price_range"`

	// ReviewFlag freezes the category for human review after a calibration
	// anomaly (contradictory corrections, runaway confidence).
	ReviewFlag bool `db:"review_flag" json:"review_flag,omitempty"`

	RecentCorrections []CorrectionSample `json:"recent_corrections,omitempty"`
	RecentLosses      []LossRecord       `json:"recent_losses,omitempty"`

	// ProfileVersion is the optimistic-concurrency counter for the whole profile.
	ProfileVersion int64 `db:"profile_version" json:"profile_version"`
	CreatedAtEpoch int64 `db:"created_at_epoch" json:"created_at_epoch"`
	UpdatedAtEpoch int64 `db:"updated_at_epoch" json:"updated_at_epoch"`
}

// NewCategoryProfile creates an empty profile for lazy creation on first
// correction or first quote in a never-seen category.
func NewCategoryProfile(businessID, category string, nowEpoch int64) *CategoryProfile {
	return &CategoryProfile{
		BusinessID:     businessID,
		Category:       NormalizeCategory(category),
		CreatedAtEpoch: nowEpoch,
		UpdatedAtEpoch: nowEpoch,
	}
}

// Clone returns a deep copy of the profile. Writers mutate a clone and commit
// it back under the optimistic-concurrency contract.
func (p *CategoryProfile) Clone() *CategoryProfile {
	c := *p
	c.Learnings = make([]*Learning, len(p.Learnings))
	for i, l := range p.Learnings {
		c.Learnings[i] = l.Clone()
	}
	c.RecentCorrections = append([]CorrectionSample(nil), p.RecentCorrections...)
	c.RecentLosses = make([]LossRecord, len(p.RecentLosses))
	for i, lr := range p.RecentLosses {
		c.RecentLosses[i] = lr
		c.RecentLosses[i].LearningIDs = append([]string(nil), lr.LearningIDs...)
	}
	return &c
}

// TotalSamples returns the sum of sample counts across all learnings.
func (p *CategoryProfile) TotalSamples() int {
	total := 0
	for _, l := range p.Learnings {
		total += l.SampleCount
	}
	return total
}

// AcceptanceRate returns observed accepted/sent, or 0 when nothing was sent.
func (p *CategoryProfile) AcceptanceRate() float64 {
	if p.Acceptance.TotalSent == 0 {
		return 0
	}
	return float64(p.Acceptance.TotalAccepted) / float64(p.Acceptance.TotalSent)
}

// FindLearning returns the learning with the given ID, or nil.
func (p *CategoryProfile) FindLearning(id string) *Learning {
	for _, l := range p.Learnings {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// FindByTarget returns the first learning matching the normalized target and
// kind, or nil.
func (p *CategoryProfile) FindByTarget(target string, kind LearningKind) *Learning {
	norm := NormalizeTarget(target)
	for _, l := range p.Learnings {
		if l.Kind == kind && NormalizeTarget(l.Target) == norm {
			return l
		}
	}
	return nil
}

// AddCorrectionSample appends to the bounded correction window.
func (p *CategoryProfile) AddCorrectionSample(s CorrectionSample) {
	p.RecentCorrections = append(p.RecentCorrections, s)
	if len(p.RecentCorrections) > MaxCorrectionWindow {
		p.RecentCorrections = p.RecentCorrections[len(p.RecentCorrections)-MaxCorrectionWindow:]
	}
}

// AddLossRecord appends to the bounded loss window.
func (p *CategoryProfile) AddLossRecord(r LossRecord) {
	p.RecentLosses = append(p.RecentLosses, r)
	if len(p.RecentLosses) > MaxLossWindow {
		p.RecentLosses = p.RecentLosses[len(p.RecentLosses)-MaxLossWindow:]
	}
}

// ObservePrice widens the observed price range with a new quote total.
func (p *CategoryProfile) ObservePrice(total float64) {
	if total <= 0 {
		return
	}
	if p.PriceRange.Min == 0 || total < p.PriceRange.Min {
		p.PriceRange.Min = total
	}
	if total > p.PriceRange.Max {
		p.PriceRange.Max = total
	}
}
