// Package calibration maintains the four-dimension confidence score for a
// category profile, bounded by observed real-world accuracy.
package calibration

import (
	"math"
	"time"

	"github.com/quotely/pricelearn/pkg/models"
)

// Calibrator recomputes confidence dimensions after profile mutations.
type Calibrator struct {
	config *models.CalibrationConfig
}

// NewCalibrator creates a new confidence calibrator.
// If config is nil, uses the default configuration.
func NewCalibrator(config *models.CalibrationConfig) *Calibrator {
	if config == nil {
		config = models.DefaultCalibrationConfig()
	}
	return &Calibrator{config: config}
}

// Components contains the breakdown of a calibration pass.
// Useful for explaining confidence to users.
type Components struct {
	Data          float64 `json:"data"`
	Accuracy      float64 `json:"accuracy"`
	Recency       float64 `json:"recency"`
	Coverage      float64 `json:"coverage"`
	Base          float64 `json:"base"`
	Boost         float64 `json:"boost"`
	Ceiling       float64 `json:"ceiling"`
	CeilingArmed  bool    `json:"ceiling_armed"`
	Contradiction bool    `json:"contradiction"`
	Overall       float64 `json:"overall"`
}

// Recalculate updates the profile's confidence dimensions and overall
// confidence in place. Called after every profile mutation.
//
// overall = 0.20*data + 0.40*accuracy + 0.25*recency + 0.15*coverage (+ boost)
//
// The calibration ceiling holds unconditionally once enough quotes were sent:
// overall never exceeds observed acceptance rate plus the ceiling margin.
// This is the guard against confidence inflation - reporting high confidence
// while actually performing poorly.
func (c *Calibrator) Recalculate(profile *models.CategoryProfile, now time.Time) Components {
	comp := Components{
		Data:     c.dataDimension(profile),
		Accuracy: c.accuracyDimension(profile),
		Recency:  c.recencyDimension(profile, now),
		Coverage: c.coverageDimension(profile),
	}

	if c.detectContradiction(profile, now) {
		// Contradictory evidence: same target corrected in opposing directions
		// within the window. Accuracy drops sharply and the category is frozen
		// for human review.
		comp.Accuracy *= 1 - c.config.ContradictionPenalty
		comp.Contradiction = true
		profile.ReviewFlag = true
	}

	comp.Base = c.config.WeightData*comp.Data +
		c.config.WeightAccuracy*comp.Accuracy +
		c.config.WeightRecency*comp.Recency +
		c.config.WeightCoverage*comp.Coverage
	comp.Boost = profile.ConfidenceBoost

	overall := clamp01(comp.Base + comp.Boost)

	if profile.TotalSamples() == 0 {
		// Cold start: nothing observed yet, confidence stays capped.
		overall = min(overall, c.config.ColdStartCap)
	}

	if ceiling, armed := c.Ceiling(profile); armed {
		comp.Ceiling = ceiling
		comp.CeilingArmed = true
		if overall > ceiling {
			if overall-ceiling > 0.25 {
				// Runaway confidence well past observed performance.
				profile.ReviewFlag = true
			}
			overall = ceiling
		}
	}

	comp.Overall = overall

	profile.Confidence = models.ConfidenceDimensions{
		Data:     comp.Data,
		Accuracy: comp.Accuracy,
		Recency:  comp.Recency,
		Coverage: comp.Coverage,
	}
	profile.OverallConfidence = overall

	return comp
}

// Ceiling returns the calibration ceiling and whether it is armed
// (enough quotes sent for the observed acceptance rate to be meaningful).
func (c *Calibrator) Ceiling(profile *models.CategoryProfile) (float64, bool) {
	if profile.Acceptance.TotalSent < c.config.MinSentForCeiling {
		return 1.0, false
	}
	return clamp01(profile.AcceptanceRate() + c.config.CeilingMargin), true
}

// dataDimension saturates with total reinforcing samples:
// min(1.0, total_samples / saturation_n).
func (c *Calibrator) dataDimension(profile *models.CategoryProfile) float64 {
	if c.config.DataSaturationN <= 0 {
		return 1.0
	}
	return min(1.0, float64(profile.TotalSamples())/float64(c.config.DataSaturationN))
}

// accuracyDimension is 1 - avg(|correction| / original_estimate) over the
// recent correction window. Defaults to 0.5 until a correction exists.
func (c *Calibrator) accuracyDimension(profile *models.CategoryProfile) float64 {
	sum := 0.0
	n := 0
	for _, s := range profile.RecentCorrections {
		if s.OriginalEstimate <= 0 {
			continue
		}
		ratio := math.Abs(s.Magnitude) / s.OriginalEstimate
		if ratio > 1 {
			ratio = 1
		}
		sum += ratio
		n++
	}
	if n == 0 {
		return c.config.DefaultAccuracy
	}
	return clamp01(1 - sum/float64(n))
}

// recencyDimension decays from the latest reinforcement with the configured
// half-life, floored so long-quiet categories keep some standing.
func (c *Calibrator) recencyDimension(profile *models.CategoryProfile, now time.Time) float64 {
	var latest int64
	for _, l := range profile.Learnings {
		if l.LastReinforcedAtEpoch > latest {
			latest = l.LastReinforcedAtEpoch
		}
	}
	if latest == 0 {
		return c.config.RecencyFloor
	}

	ageDays := now.Sub(time.UnixMilli(latest)).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	decay := math.Pow(0.5, ageDays/c.config.RecencyHalfLifeDays)
	if decay < c.config.RecencyFloor {
		decay = c.config.RecencyFloor
	}
	return decay
}

// coverageDimension is a Shannon-entropy measure of how evenly corrections
// spread across job sub-types. 1.0 means maximally even; a single sub-type
// ("all simple jobs") scores zero, revealing the coverage gap.
func (c *Calibrator) coverageDimension(profile *models.CategoryProfile) float64 {
	if len(profile.RecentCorrections) == 0 {
		// Neutral until there is anything to measure.
		return 0.5
	}

	counts := make(map[string]int)
	for _, s := range profile.RecentCorrections {
		subType := s.JobSubType
		if subType == "" {
			subType = "general"
		}
		counts[subType]++
	}

	total := float64(len(profile.RecentCorrections))
	entropy := 0.0
	for _, n := range counts {
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}

	// Normalize against at least two buckets so a single sub-type reads as a gap.
	maxEntropy := math.Log2(math.Max(float64(len(counts)), 2))
	return clamp01(entropy / maxEntropy)
}

// detectContradiction reports whether the same target was corrected in
// opposing directions within the contradiction window.
func (c *Calibrator) detectContradiction(profile *models.CategoryProfile, now time.Time) bool {
	cutoff := now.Add(-time.Duration(c.config.ContradictionWindowDays * 24 * float64(time.Hour))).UnixMilli()

	directions := make(map[string]int)
	for _, s := range profile.RecentCorrections {
		if s.AtEpoch < cutoff || s.Direction == 0 {
			continue
		}
		key := models.NormalizeTarget(s.Target)
		if prev, ok := directions[key]; ok && prev != s.Direction {
			return true
		}
		directions[key] = s.Direction
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
