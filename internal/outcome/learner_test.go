package outcome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quotely/pricelearn/internal/calibration"
	"github.com/quotely/pricelearn/pkg/models"
)

// LearnerSuite is a test suite for the acceptance learner.
type LearnerSuite struct {
	suite.Suite
	learner *Learner
	now     time.Time
}

func (s *LearnerSuite) SetupTest() {
	s.learner = NewLearner(models.DefaultOutcomeConfig(), calibration.NewCalibrator(models.DefaultCalibrationConfig()))
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestLearnerSuite(t *testing.T) {
	suite.Run(t, new(LearnerSuite))
}

// establishedProfile has saturated data and fresh reinforcement, so the
// confidence base lands at 0.725 before boosts and ceilings.
func (s *LearnerSuite) establishedProfile() *models.CategoryProfile {
	return &models.CategoryProfile{
		BusinessID: "biz-1",
		Category:   "deck staining",
		Learnings: []*models.Learning{
			{
				ID:                    "l-1",
				Target:                "deck labor",
				Kind:                  models.KindLineItemAdjustment,
				Adjustment:            1.15,
				Confidence:            0.8,
				SampleCount:           20,
				LastReinforcedAtEpoch: s.now.UnixMilli(),
			},
		},
	}
}

func (s *LearnerSuite) TestHandleWon_FullBoostBeforeCeilingArms() {
	profile := s.establishedProfile()
	event := &models.OutcomeEvent{
		QuoteID:           "q-1",
		Type:              models.OutcomeWonUnedited,
		ActiveLearningIDs: []string{"l-1"},
	}
	reinforcedAt := s.now.Add(48 * time.Hour)

	s.learner.HandleWon(profile, event, reinforcedAt)

	s.Equal(1, profile.Acceptance.TotalSent)
	s.Equal(1, profile.Acceptance.TotalAccepted)
	s.Equal(reinforcedAt.UnixMilli(), profile.Acceptance.LastAcceptanceAtEpoch)
	s.Equal(reinforcedAt.UnixMilli(), profile.Learnings[0].LastReinforcedAtEpoch, "active learnings are touched")
	s.InDelta(0.05, profile.ConfidenceBoost, 1e-9)
	// base 0.725 + won boost, recency back at 1.0 after the touch
	s.InDelta(0.775, profile.OverallConfidence, 1e-9)
}

func (s *LearnerSuite) TestHandleWon_BoostBoundedByCeilingHeadroom() {
	profile := s.establishedProfile()
	profile.Acceptance.TotalSent = 10
	profile.Acceptance.TotalAccepted = 5
	profile.OverallConfidence = 0.63 // ceiling 0.65, headroom only 0.02

	s.learner.HandleWon(profile, &models.OutcomeEvent{QuoteID: "q-1", Type: models.OutcomeWonUnedited}, s.now)

	s.InDelta(0.02, profile.ConfidenceBoost, 1e-9)
	// base 0.725 + 0.02 exceeds the recomputed ceiling 6/11 + 0.15
	s.InDelta(6.0/11.0+0.15, profile.OverallConfidence, 1e-9)
	s.False(profile.ReviewFlag)
}

func (s *LearnerSuite) TestHandleWon_NoBoostPastCeiling() {
	profile := s.establishedProfile()
	profile.Acceptance.TotalSent = 10
	profile.Acceptance.TotalAccepted = 5
	profile.OverallConfidence = 0.70 // already past the 0.65 ceiling

	s.learner.HandleWon(profile, &models.OutcomeEvent{QuoteID: "q-1", Type: models.OutcomeWonUnedited}, s.now)

	s.Zero(profile.ConfidenceBoost, "no headroom means no boost, never a negative one")
}

func (s *LearnerSuite) TestHandleLost_DecaysImplicatedLearning() {
	profile := s.establishedProfile()
	profile.Learnings = append(profile.Learnings, &models.Learning{
		ID:                    "l-rare",
		Target:                "travel fee",
		Kind:                  models.KindLineItemAdjustment,
		Adjustment:            1.30,
		Confidence:            0.6,
		SampleCount:           4,
		LastReinforcedAtEpoch: s.now.UnixMilli(),
	})

	losses := [][]string{
		{"l-1", "l-rare"},
		{"l-1"},
		{"l-1"},
	}
	for i, ids := range losses {
		s.learner.HandleLost(profile, &models.OutcomeEvent{
			QuoteID:           "q-lost",
			Type:              models.OutcomeLostUnedited,
			ActiveLearningIDs: ids,
		}, s.now.Add(time.Duration(i)*time.Hour))
	}

	s.Equal(3, profile.Acceptance.TotalSent)
	s.Len(profile.RecentLosses, 3)

	implicated := profile.FindLearning("l-1")
	s.True(implicated.DecayFlagged, "active in 3 of 3 losses")
	s.InDelta(0.4, implicated.Confidence, 1e-9)

	rare := profile.FindLearning("l-rare")
	s.False(rare.DecayFlagged, "1 of 3 losses is below the implication share")
	s.InDelta(0.6, rare.Confidence, 1e-9)
}

func (s *LearnerSuite) TestHandleLost_NoDecayBelowMinimumLosses() {
	profile := s.establishedProfile()

	for i := 0; i < 2; i++ {
		s.learner.HandleLost(profile, &models.OutcomeEvent{
			QuoteID:           "q-lost",
			Type:              models.OutcomeLostUnedited,
			ActiveLearningIDs: []string{"l-1"},
		}, s.now)
	}

	s.False(profile.Learnings[0].DecayFlagged, "two losses are not yet a pattern")
	s.InDelta(0.8, profile.Learnings[0].Confidence, 1e-9)
}

func (s *LearnerSuite) TestHandleLost_DecayedLearningNotDecayedTwice() {
	profile := s.establishedProfile()

	for i := 0; i < 4; i++ {
		s.learner.HandleLost(profile, &models.OutcomeEvent{
			QuoteID:           "q-lost",
			Type:              models.OutcomeLostUnedited,
			ActiveLearningIDs: []string{"l-1"},
		}, s.now)
	}

	s.InDelta(0.4, profile.Learnings[0].Confidence, 1e-9, "halved once, not on every subsequent loss")
}

func (s *LearnerSuite) TestCorrectionBoost() {
	s.InDelta(0.02, s.learner.CorrectionBoost(), 1e-9)
}
