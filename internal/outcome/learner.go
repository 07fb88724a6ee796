// Package outcome folds quote acceptance and loss signals back into the
// profile. Acceptance is treated as a stronger positive signal than a
// correction: a correction proves engagement, an unedited win proves the
// pricing was right.
package outcome

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quotely/pricelearn/internal/calibration"
	"github.com/quotely/pricelearn/pkg/models"
)

// Learner applies outcome events to a profile. All methods mutate the
// profile in place; callers run them inside the store's Apply loop so the
// optimistic-concurrency contract holds.
type Learner struct {
	config     *models.OutcomeConfig
	calibrator *calibration.Calibrator
}

// NewLearner creates an acceptance learner sharing the engine's calibrator.
func NewLearner(config *models.OutcomeConfig, calibrator *calibration.Calibrator) *Learner {
	if config == nil {
		config = models.DefaultOutcomeConfig()
	}
	return &Learner{config: config, calibrator: calibrator}
}

// HandleWon records a quote sent without edits that the customer accepted.
// The confidence boost is bounded by the calibration ceiling, so a winning
// streak can never push confidence past observed acceptance performance.
func (l *Learner) HandleWon(profile *models.CategoryProfile, event *models.OutcomeEvent, now time.Time) {
	profile.Acceptance.TotalSent++
	profile.Acceptance.TotalAccepted++
	profile.Acceptance.LastAcceptanceAtEpoch = now.UnixMilli()

	for _, id := range event.ActiveLearningIDs {
		if learning := profile.FindLearning(id); learning != nil {
			learning.Touch(now)
		}
	}

	boost := l.config.WonBoost
	if ceiling, armed := l.calibrator.Ceiling(profile); armed {
		headroom := ceiling - profile.OverallConfidence
		if headroom < boost {
			boost = math.Max(0, headroom)
		}
	}
	profile.ConfidenceBoost += boost

	l.calibrator.Recalculate(profile, now)
	log.Debug().
		Str("business_id", profile.BusinessID).
		Str("category", profile.Category).
		Float64("boost", boost).
		Msg("Won outcome applied")
}

// HandleLost records a quote sent without edits that the customer declined,
// then decays learnings implicated in a large share of recent losses.
func (l *Learner) HandleLost(profile *models.CategoryProfile, event *models.OutcomeEvent, now time.Time) {
	profile.Acceptance.TotalSent++
	profile.AddLossRecord(models.LossRecord{
		QuoteID:     event.QuoteID,
		LearningIDs: event.ActiveLearningIDs,
		AtEpoch:     now.UnixMilli(),
	})

	l.decayImplicated(profile, now)
	l.calibrator.Recalculate(profile, now)
}

// decayImplicated halves the confidence of any learning active in at least
// the implication share of the recent loss window. The learning is flagged
// rather than deleted; a later reinforcing correction can recover it.
func (l *Learner) decayImplicated(profile *models.CategoryProfile, now time.Time) {
	losses := len(profile.RecentLosses)
	if losses < l.config.MinLossesForDecay {
		return
	}

	appearances := make(map[string]int)
	for _, loss := range profile.RecentLosses {
		for _, id := range loss.LearningIDs {
			appearances[id]++
		}
	}

	for _, learning := range profile.Learnings {
		if learning.DecayFlagged {
			continue
		}
		share := float64(appearances[learning.ID]) / float64(losses)
		if share < l.config.LossImplicationShare {
			continue
		}
		learning.Confidence *= l.config.DecayFactor
		learning.DecayFlagged = true
		learning.Version++
		log.Info().
			Str("learning_id", learning.ID).
			Str("category", profile.Category).
			Float64("loss_share", share).
			Float64("confidence", learning.Confidence).
			Msg("Learning decayed after repeated losses")
	}
}

// CorrectionBoost returns the per-accepted-correction confidence increment.
// The correction pipeline applies it when storing an accepted candidate.
func (l *Learner) CorrectionBoost() float64 {
	return l.config.CorrectionBoost
}
