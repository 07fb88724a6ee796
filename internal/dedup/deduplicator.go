// Package dedup collapses semantically redundant learnings into their best
// representative.
package dedup

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quotely/pricelearn/pkg/models"
	"github.com/quotely/pricelearn/pkg/similarity"
)

// Deduplicator decides whether an incoming learning is a new pattern or a
// reinforcement of an existing one.
type Deduplicator struct {
	config *models.DedupConfig
	rates  models.LearningRateTable
}

// NewDeduplicator creates a new deduplicator.
// Nil arguments fall back to defaults.
func NewDeduplicator(config *models.DedupConfig, rates models.LearningRateTable) *Deduplicator {
	if config == nil {
		config = models.DefaultDedupConfig()
	}
	if rates == nil {
		rates = models.DefaultLearningRateTable()
	}
	return &Deduplicator{config: config, rates: rates}
}

// Match returns the existing learning the incoming one duplicates, or nil if
// it is a genuinely new pattern. Two learnings are the same underlying pattern
// when they share a normalized target and kind, and their statements are
// semantically close: cosine similarity of embeddings when both are present,
// term overlap otherwise (embedding availability is a capability, not a hard
// dependency).
func (d *Deduplicator) Match(incoming *models.Learning, existing []*models.Learning) (*models.Learning, float64) {
	norm := models.NormalizeTarget(incoming.Target)

	var best *models.Learning
	bestSim := 0.0

	for _, l := range existing {
		if l.Kind != incoming.Kind || models.NormalizeTarget(l.Target) != norm {
			continue
		}

		sim, threshold := d.similarity(incoming, l)
		if sim >= threshold && sim > bestSim {
			best = l
			bestSim = sim
		}
	}

	return best, bestSim
}

func (d *Deduplicator) similarity(a, b *models.Learning) (sim, threshold float64) {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return similarity.Cosine(a.Embedding, b.Embedding), d.config.SimilarityThreshold
	}
	return similarity.TermSimilarity(a.StatementText(), b.StatementText()), d.config.TermFallbackThreshold
}

// Merge folds the incoming learning into the existing one: the sample count
// increments by exactly one, the adjustment and confidence move toward the
// incoming evidence at the dynamic learning rate, and the statement text of
// whichever entry scored higher quality is kept.
//
//	weight_new = 0.60 while sample_count < 5, 0.30 while < 15, else 0.15
//	new = old*(1-weight_new) + incoming*weight_new
func (d *Deduplicator) Merge(existing, incoming *models.Learning, now time.Time) {
	weight := d.rates.WeightFor(existing.SampleCount)

	if incoming.Adjustment != 0 {
		if existing.Adjustment == 0 {
			existing.Adjustment = incoming.Adjustment
		} else {
			existing.Adjustment = existing.Adjustment*(1-weight) + incoming.Adjustment*weight
		}
	}
	existing.Confidence = clamp01(existing.Confidence*(1-weight) + incoming.Confidence*weight)

	// The better-scored statement represents the cluster.
	if incoming.Quality.QualityScore > existing.Quality.QualityScore {
		existing.Reason = incoming.Reason
		existing.RuleText = incoming.RuleText
		existing.AppliesWhen = incoming.AppliesWhen
		existing.Quality = incoming.Quality
		if len(incoming.Embedding) > 0 {
			existing.Embedding = incoming.Embedding
		}
	}

	existing.SampleCount++
	existing.TotalImpact += incoming.TotalImpact
	if existing.ReviewOnly && !incoming.ReviewOnly {
		// Reinforcement by an admissible statement lifts the review-only flag.
		existing.ReviewOnly = false
	}
	existing.Touch(now)

	log.Debug().
		Str("learning_id", existing.ID).
		Int("sample_count", existing.SampleCount).
		Float64("weight", weight).
		Float64("adjustment", existing.Adjustment).
		Msg("Merged learning reinforcement")
}

// Reinforce applies the dynamic-rate update with external evidence that is not
// itself a stored learning (DNA bootstrap reinforcement).
func (d *Deduplicator) Reinforce(existing *models.Learning, adjustment, confidence float64, now time.Time) {
	weight := d.rates.WeightFor(existing.SampleCount)
	if adjustment != 0 {
		existing.Adjustment = existing.Adjustment*(1-weight) + adjustment*weight
	}
	existing.Confidence = clamp01(existing.Confidence*(1-weight) + confidence*weight)
	existing.SampleCount++
	existing.Touch(now)
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
