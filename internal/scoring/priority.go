// Package scoring provides priority score calculation for learnings.
package scoring

import (
	"math"
	"time"

	"github.com/quotely/pricelearn/pkg/models"
)

// Config contains parameters for the priority formula.
type Config struct {
	// ImpactCap is the cumulative dollar magnitude at which impact saturates.
	ImpactCap float64 `json:"impact_cap"`
	// RecencyHalfLifeDays halves the recency score per elapsed period.
	RecencyHalfLifeDays float64 `json:"recency_half_life_days"`
	// RecencyFloor is the lower bound for the recency score.
	RecencyFloor float64 `json:"recency_floor"`
}

// DefaultConfig returns the default priority configuration.
func DefaultConfig() Config {
	return Config{
		ImpactCap:           1000,
		RecencyHalfLifeDays: 30,
		RecencyFloor:        0.3,
	}
}

// Impact returns min(1.0, total_impact / impact_cap).
func (c Config) Impact(l *models.Learning) float64 {
	if c.ImpactCap <= 0 {
		return 1.0
	}
	return math.Min(1.0, l.TotalImpact/c.ImpactCap)
}

// Recency returns the half-life decay from the last reinforcement, floored.
func (c Config) Recency(l *models.Learning, now time.Time) float64 {
	at := l.LastReinforcedAtEpoch
	if at == 0 {
		at = l.CreatedAtEpoch
	}
	if at == 0 {
		return c.RecencyFloor
	}

	ageDays := now.Sub(time.UnixMilli(at)).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	decay := math.Pow(0.5, ageDays/c.RecencyHalfLifeDays)
	if decay < c.RecencyFloor {
		decay = c.RecencyFloor
	}
	return decay
}

// Priority computes the ranking score used for injection selection:
//
//	priority = impact * confidence * recency * relevance
//
// relevance is the job description similarity; callers without a semantic
// signal pass 1.0 and the ranking degrades to impact/confidence/recency only.
func (c Config) Priority(l *models.Learning, now time.Time, relevance float64) float64 {
	return c.Impact(l) * l.Confidence * c.Recency(l, now) * relevance
}

// EvictionScore computes the priority without the relevance term. The store
// evicts the minimum-scored learning on overflow; there is no job description
// at eviction time, and eviction by insertion order is exactly the failure
// mode this avoids.
func (c Config) EvictionScore(l *models.Learning, now time.Time) float64 {
	return c.Priority(l, now, 1.0)
}
