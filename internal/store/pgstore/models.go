// Package pgstore provides the PostgreSQL backend for the learning store,
// used in multi-instance server deployments. Embeddings are stored in a
// pgvector column so future similarity queries can run in the database.
package pgstore

import (
	pgvec "github.com/pgvector/pgvector-go"
)

// ProfileRecord is the GORM model for category profiles.
type ProfileRecord struct {
	BusinessID string `gorm:"primaryKey;column:business_id"`
	Category   string `gorm:"primaryKey;column:category"`

	ProfileVersion    int64   `gorm:"column:profile_version;not null"`
	OverallConfidence float64 `gorm:"column:overall_confidence;not null;default:0"`
	ConfidenceBoost   float64 `gorm:"column:confidence_boost;not null;default:0"`

	ConfidenceData     float64 `gorm:"column:confidence_data;not null;default:0"`
	ConfidenceAccuracy float64 `gorm:"column:confidence_accuracy;not null;default:0"`
	ConfidenceRecency  float64 `gorm:"column:confidence_recency;not null;default:0"`
	ConfidenceCoverage float64 `gorm:"column:confidence_coverage;not null;default:0"`

	TotalSent             int   `gorm:"column:total_sent;not null;default:0"`
	TotalAccepted         int   `gorm:"column:total_accepted;not null;default:0"`
	LastAcceptanceAtEpoch int64 `gorm:"column:last_acceptance_at_epoch;not null;default:0"`

	PriceMin   float64 `gorm:"column:price_min;not null;default:0"`
	PriceMax   float64 `gorm:"column:price_max;not null;default:0"`
	ReviewFlag bool    `gorm:"column:review_flag;not null;default:false"`

	RecentCorrections []byte `gorm:"column:recent_corrections;type:jsonb"`
	RecentLosses      []byte `gorm:"column:recent_losses;type:jsonb"`

	CreatedAtEpoch int64 `gorm:"column:created_at_epoch;not null"`
	UpdatedAtEpoch int64 `gorm:"column:updated_at_epoch;not null"`
}

func (ProfileRecord) TableName() string { return "category_profiles" }

// LearningRecord is the GORM model for learnings.
type LearningRecord struct {
	ID         string `gorm:"primaryKey;column:id"`
	BusinessID string `gorm:"column:business_id;index:idx_learnings_profile,priority:1;not null"`
	Category   string `gorm:"column:category;index:idx_learnings_profile,priority:2;not null"`

	Kind        string  `gorm:"column:kind;not null"`
	Target      string  `gorm:"column:target;not null"`
	Adjustment  float64 `gorm:"column:adjustment;not null;default:0"`
	RuleText    string  `gorm:"column:rule_text;not null;default:''"`
	AppliesWhen string  `gorm:"column:applies_when;not null;default:''"`
	Reason      string  `gorm:"column:reason;not null;default:''"`

	Specificity        float64 `gorm:"column:specificity;not null;default:0"`
	Actionability      float64 `gorm:"column:actionability;not null;default:0"`
	Clarity            float64 `gorm:"column:clarity;not null;default:0"`
	AntiPatternPenalty float64 `gorm:"column:anti_pattern_penalty;not null;default:0"`
	QualityScore       float64 `gorm:"column:quality_score;not null;default:0"`

	Confidence   float64 `gorm:"column:confidence;not null;default:0"`
	SampleCount  int     `gorm:"column:sample_count;not null;default:1"`
	TotalImpact  float64 `gorm:"column:total_impact;not null;default:0"`
	Source       string  `gorm:"column:source;not null"`
	ReviewOnly   bool    `gorm:"column:review_only;not null;default:false"`
	DecayFlagged bool    `gorm:"column:decay_flagged;not null;default:false"`

	Embedding *pgvec.Vector `gorm:"column:embedding;type:vector(1536)"`

	CreatedAtEpoch        int64 `gorm:"column:created_at_epoch;not null"`
	LastReinforcedAtEpoch int64 `gorm:"column:last_reinforced_at_epoch;not null"`
	Version               int64 `gorm:"column:version;not null;default:1"`
}

func (LearningRecord) TableName() string { return "learnings" }

// DeadLetterRecord is the GORM model for escalated events.
type DeadLetterRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement;column:id"`
	BusinessID string `gorm:"column:business_id;index:idx_dead_letters_business;not null"`
	Category   string `gorm:"column:category;not null"`
	Kind       string `gorm:"column:kind;not null"`
	Payload    string `gorm:"column:payload;not null"`
	Reason     string `gorm:"column:reason;not null"`
	AtEpoch    int64  `gorm:"column:at_epoch;not null"`
}

func (DeadLetterRecord) TableName() string { return "dead_letters" }
