package calibration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quotely/pricelearn/pkg/models"
)

// CalibratorSuite is a test suite for the confidence Calibrator.
type CalibratorSuite struct {
	suite.Suite
	calibrator *Calibrator
	config     *models.CalibrationConfig
	now        time.Time
}

func (s *CalibratorSuite) SetupTest() {
	s.config = models.DefaultCalibrationConfig()
	s.calibrator = NewCalibrator(s.config)
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestCalibratorSuite(t *testing.T) {
	suite.Run(t, new(CalibratorSuite))
}

func (s *CalibratorSuite) freshProfile() *models.CategoryProfile {
	return models.NewCategoryProfile("biz-1", "deck staining", s.now.UnixMilli())
}

func (s *CalibratorSuite) TestRecalculate_ColdStartCapped() {
	profile := s.freshProfile()

	comp := s.calibrator.Recalculate(profile, s.now)

	// 0.20*0 + 0.40*0.5 + 0.25*0.3 + 0.15*0.5 = 0.35, capped at 0.3.
	s.InDelta(0.35, comp.Base, 0.001)
	s.InDelta(0.3, comp.Overall, 0.001)
	s.InDelta(0.3, profile.OverallConfidence, 0.001)
	s.False(profile.ReviewFlag)
}

func (s *CalibratorSuite) TestRecalculate_CeilingHoldsOnceArmed() {
	profile := s.freshProfile()
	profile.Learnings = []*models.Learning{{
		ID:                    "l1",
		Target:                "deck labor",
		Adjustment:            1.15,
		SampleCount:           20,
		LastReinforcedAtEpoch: s.now.UnixMilli(),
	}}
	profile.Acceptance = models.AcceptanceStats{TotalSent: 10, TotalAccepted: 5}

	comp := s.calibrator.Recalculate(profile, s.now)

	// Base 0.725 exceeds the 0.5 + 0.15 ceiling.
	s.InDelta(0.725, comp.Base, 0.001)
	s.True(comp.CeilingArmed)
	s.InDelta(0.65, profile.OverallConfidence, 0.001)
	s.False(profile.ReviewFlag, "a small overshoot clamps without escalating")
}

func (s *CalibratorSuite) TestRecalculate_CeilingNotArmedBelowMinSent() {
	profile := s.freshProfile()
	profile.Learnings = []*models.Learning{{
		ID:                    "l1",
		SampleCount:           20,
		LastReinforcedAtEpoch: s.now.UnixMilli(),
	}}
	profile.Acceptance = models.AcceptanceStats{TotalSent: 9, TotalAccepted: 1}

	comp := s.calibrator.Recalculate(profile, s.now)

	s.False(comp.CeilingArmed, "nine sends is too small a sample to bound confidence")
	s.InDelta(0.725, profile.OverallConfidence, 0.001)
}

func (s *CalibratorSuite) TestRecalculate_RunawayConfidenceFlagged() {
	profile := s.freshProfile()
	profile.Learnings = []*models.Learning{{
		ID:                    "l1",
		SampleCount:           20,
		LastReinforcedAtEpoch: s.now.UnixMilli(),
	}}
	profile.Acceptance = models.AcceptanceStats{TotalSent: 10, TotalAccepted: 0}

	s.calibrator.Recalculate(profile, s.now)

	s.InDelta(0.15, profile.OverallConfidence, 0.001)
	s.True(profile.ReviewFlag, "confidence far past observed performance needs a human")
}

func (s *CalibratorSuite) TestRecalculate_ContradictionFreezesCategory() {
	profile := s.freshProfile()
	profile.Learnings = []*models.Learning{{ID: "l1", SampleCount: 3, LastReinforcedAtEpoch: s.now.UnixMilli()}}
	profile.RecentCorrections = []models.CorrectionSample{
		{Target: "deck labor", Direction: 1, Magnitude: 50, OriginalEstimate: 500, AtEpoch: s.now.UnixMilli()},
		{Target: "Deck  Labor", Direction: -1, Magnitude: 60, OriginalEstimate: 500, AtEpoch: s.now.Add(-24 * time.Hour).UnixMilli()},
	}

	comp := s.calibrator.Recalculate(profile, s.now)

	s.True(comp.Contradiction)
	s.True(profile.ReviewFlag)
	// Accuracy 0.89 halves under the contradiction penalty.
	s.InDelta(0.445, comp.Accuracy, 0.001)
}

func (s *CalibratorSuite) TestRecalculate_OldContradictionIgnored() {
	profile := s.freshProfile()
	profile.Learnings = []*models.Learning{{ID: "l1", SampleCount: 3, LastReinforcedAtEpoch: s.now.UnixMilli()}}
	profile.RecentCorrections = []models.CorrectionSample{
		{Target: "deck labor", Direction: 1, Magnitude: 50, OriginalEstimate: 500, AtEpoch: s.now.UnixMilli()},
		{Target: "deck labor", Direction: -1, Magnitude: 60, OriginalEstimate: 500, AtEpoch: s.now.Add(-40 * 24 * time.Hour).UnixMilli()},
	}

	comp := s.calibrator.Recalculate(profile, s.now)

	s.False(comp.Contradiction, "an opposing correction outside the window is history, not contradiction")
	s.False(profile.ReviewFlag)
}

func (s *CalibratorSuite) TestRecalculate_BoostSurvivesRecalibration() {
	profile := s.freshProfile()
	profile.Learnings = []*models.Learning{{ID: "l1", SampleCount: 4, LastReinforcedAtEpoch: s.now.UnixMilli()}}
	profile.ConfidenceBoost = 0.07

	first := s.calibrator.Recalculate(profile, s.now)
	second := s.calibrator.Recalculate(profile, s.now)

	s.InDelta(first.Overall, second.Overall, 0.0001)
	s.InDelta(first.Base+0.07, first.Overall, 0.001)
}

func (s *CalibratorSuite) TestCoverage_SingleSubTypeIsAGap() {
	profile := s.freshProfile()
	for i := 0; i < 5; i++ {
		profile.RecentCorrections = append(profile.RecentCorrections, models.CorrectionSample{
			Target: "deck labor", Direction: 1, Magnitude: 10, OriginalEstimate: 500,
			JobSubType: "small residential", AtEpoch: s.now.UnixMilli(),
		})
	}

	comp := s.calibrator.Recalculate(profile, s.now)

	s.Zero(comp.Coverage, "five identical sub-types reveal no spread at all")
}

func (s *CalibratorSuite) TestCoverage_EvenSpreadScoresHigh() {
	profile := s.freshProfile()
	for i, sub := range []string{"small", "medium", "large", "commercial"} {
		profile.RecentCorrections = append(profile.RecentCorrections, models.CorrectionSample{
			Target: "deck labor", Direction: 1, Magnitude: float64(10 + i), OriginalEstimate: 500,
			JobSubType: sub, AtEpoch: s.now.UnixMilli(),
		})
	}

	comp := s.calibrator.Recalculate(profile, s.now)

	s.InDelta(1.0, comp.Coverage, 0.001)
}
