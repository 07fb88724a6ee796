// Package models contains domain models for pricelearn.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LearningKind represents the kind of learned pricing behavior.
type LearningKind string

const (
	// KindLineItemAdjustment is a multiplicative factor applied to a named line item.
	KindLineItemAdjustment LearningKind = "line_item_adjustment"
	// KindCategoryRule is a free-text pricing policy with an applies-when predicate.
	KindCategoryRule LearningKind = "category_rule"
	// KindGlobalPattern is a cross-category pattern written by the DNA transfer engine.
	KindGlobalPattern LearningKind = "global_pattern"
)

// LearningSource represents where a learning originated.
type LearningSource string

const (
	SourceCorrection  LearningSource = "correction"
	SourceAcceptance  LearningSource = "acceptance"
	SourceDNATransfer LearningSource = "dna_transfer"
)

// QualityScores holds the rubric sub-scores and the derived quality score.
type QualityScores struct {
	Specificity        float64 `db:"specificity" json:"specificity"`
	Actionability      float64 `db:"actionability" json:"actionability"`
	Clarity            float64 `db:"clarity" json:"clarity"`
	AntiPatternPenalty float64 `db:"anti_pattern_penalty" json:"anti_pattern_penalty"`
	QualityScore       float64 `db:"quality_score" json:"quality_score"`
}

// Learning is the atomic unit of learned pricing behavior for one
// (business, category) pair.
type Learning struct {
	ID         string       `db:"id" json:"id"`
	BusinessID string       `db:"business_id" json:"business_id"`
	Category   string       `db:"category" json:"category"`
	Kind       LearningKind `db:"kind" json:"kind"`

	// Target is the line item or rule name this learning applies to.
	Target string `db:"target" json:"target"`
	// Adjustment is a signed multiplicative factor (1.20 = +20%).
	// Zero for category rules, which carry RuleText/AppliesWhen instead.
	Adjustment  float64 `db:"adjustment" json:"adjustment"`
	RuleText    string  `db:"rule_text" json:"rule_text,omitempty"`
	AppliesWhen string  `db:"applies_when" json:"applies_when,omitempty"`
	// Reason is a short justification kept for audit and display only.
	Reason string `db:"reason" json:"reason,omitempty"`

	Quality QualityScores `db:"-" json:"quality"`
	// Confidence is specific to this learning, distinct from category confidence.
	Confidence  float64 `db:"confidence" json:"confidence"`
	SampleCount int     `db:"sample_count" json:"sample_count"`
	// TotalImpact is the cumulative absolute dollar magnitude behind this learning.
	TotalImpact float64        `db:"total_impact" json:"total_impact"`
	Source      LearningSource `db:"source" json:"source"`

	// ReviewOnly marks REVIEW-grade learnings, excluded from injection by default.
	ReviewOnly bool `db:"review_only" json:"review_only,omitempty"`
	// DecayFlagged marks learnings implicated in lost quotes; eviction handles removal.
	DecayFlagged bool `db:"decay_flagged" json:"decay_flagged,omitempty"`

	Embedding JSONFloat32Array `db:"embedding" json:"embedding,omitempty"`

	CreatedAtEpoch        int64 `db:"created_at_epoch" json:"created_at_epoch"`
	LastReinforcedAtEpoch int64 `db:"last_reinforced_at_epoch" json:"last_reinforced_at_epoch"`
	// Version increments on every mutation (optimistic concurrency).
	Version int64 `db:"version" json:"version"`
}

// NewLearningID returns a fresh learning identifier.
func NewLearningID() string {
	return uuid.NewString()
}

// Touch records a reinforcement and bumps the mutation version.
func (l *Learning) Touch(now time.Time) {
	l.LastReinforcedAtEpoch = now.UnixMilli()
	l.Version++
}

// Clone returns a deep copy of the learning.
func (l *Learning) Clone() *Learning {
	c := *l
	if l.Embedding != nil {
		c.Embedding = make(JSONFloat32Array, len(l.Embedding))
		copy(c.Embedding, l.Embedding)
	}
	return &c
}

// StatementText returns the text used for embedding and similarity comparison.
func (l *Learning) StatementText() string {
	if l.Kind == KindCategoryRule {
		return strings.TrimSpace(l.Target + " " + l.RuleText + " " + l.AppliesWhen)
	}
	return strings.TrimSpace(fmt.Sprintf("%s %+.0f%% %s", l.Target, (l.Adjustment-1)*100, l.Reason))
}

// Direction returns -1, 0 or 1 for the sign of the adjustment relative to 1.0.
func (l *Learning) Direction() int {
	switch {
	case l.Adjustment > 1.0:
		return 1
	case l.Adjustment != 0 && l.Adjustment < 1.0:
		return -1
	default:
		return 0
	}
}

// NormalizeCategory canonicalizes a category key: lowercased, trimmed,
// inner whitespace collapsed to single spaces.
func NormalizeCategory(category string) string {
	return strings.Join(strings.Fields(strings.ToLower(category)), " ")
}

// NormalizeTarget canonicalizes a line item or rule name for matching.
func NormalizeTarget(target string) string {
	return strings.Join(strings.Fields(strings.ToLower(target)), " ")
}

// JSONFloat32Array is a custom type for handling embedding vectors in SQLite.
type JSONFloat32Array []float32

// Scan implements sql.Scanner for JSONFloat32Array.
func (j *JSONFloat32Array) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONFloat32Array: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONFloat32Array.
func (j JSONFloat32Array) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// JSONStringArray is a custom type for handling JSON string arrays in SQLite.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
