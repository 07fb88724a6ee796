package quality

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/quotely/pricelearn/pkg/models"
)

// ScorerSuite is a test suite for the quality Scorer.
type ScorerSuite struct {
	suite.Suite
	scorer *Scorer
	config *models.QualityConfig
}

func (s *ScorerSuite) SetupTest() {
	s.config = models.DefaultQualityConfig()
	s.scorer = NewScorer(s.config)
}

func TestScorerSuite(t *testing.T) {
	suite.Run(t, new(ScorerSuite))
}

func (s *ScorerSuite) TestScore_SpecificAdjustmentAccepted() {
	result := s.scorer.Score(models.CandidateLearning{
		Target:             "deck staining labor",
		Kind:               models.KindLineItemAdjustment,
		Adjustment:         1.15,
		AppliesWhen:        "over 200 sqft",
		Reason:             "customer consistently raises quoted hours",
		SupportingExamples: 2,
		ImpactDollars:      150,
	}, nil)

	s.Equal(DecisionAccept, result.Decision)
	s.InDelta(35, result.Specificity, 0.01, "named target + numeric adjustment + measurable condition saturates specificity")
	s.InDelta(25, result.Actionability, 0.01)
	s.InDelta(80, result.QualityScore, 0.01)
}

func (s *ScorerSuite) TestScore_VagueTargetLandsInReview() {
	result := s.scorer.Score(models.CandidateLearning{
		Target:     "misc",
		Kind:       models.KindLineItemAdjustment,
		Adjustment: 1.10,
	}, nil)

	s.Equal(DecisionReview, result.Decision)
	s.InDelta(12, result.Specificity, 0.01, "vague target forfeits the target points")
	s.InDelta(46, result.QualityScore, 0.01)
}

func (s *ScorerSuite) TestScore_RefineBand() {
	result := s.scorer.Score(models.CandidateLearning{
		Target:     "fence painting",
		Kind:       models.KindLineItemAdjustment,
		Adjustment: 1.20,
		Reason:     "higher end pricing",
	}, nil)

	s.Equal(DecisionRefine, result.Decision)
	s.InDelta(65, result.QualityScore, 0.01)
}

func (s *ScorerSuite) TestScore_MalformedCandidatesRejected() {
	cases := []struct {
		name      string
		candidate models.CandidateLearning
	}{
		{"missing target", models.CandidateLearning{Adjustment: 1.2}},
		{"no adjustment and no rule", models.CandidateLearning{Target: "deck labor"}},
		{"negative adjustment factor", models.CandidateLearning{Target: "deck labor", Adjustment: -0.5}},
	}

	for _, tc := range cases {
		result := s.scorer.Score(tc.candidate, nil)
		s.Equal(DecisionReject, result.Decision, tc.name)
		s.NotEmpty(result.Reason, tc.name)
		s.Zero(result.QualityScore, tc.name)
	}
}

func (s *ScorerSuite) TestScore_AbsoluteClaimRejected() {
	result := s.scorer.Score(models.CandidateLearning{
		Target:   "travel fee",
		Kind:     models.KindCategoryRule,
		RuleText: "always add travel fee",
	}, nil)

	s.Equal(DecisionReject, result.Decision)
	s.InDelta(10, result.AntiPatternPenalty, 0.01)
	s.Contains(result.Reason, "absolute claim")
}

func (s *ScorerSuite) TestScore_QualifiedAbsoluteClaimNotPenalized() {
	result := s.scorer.Score(models.CandidateLearning{
		Target:   "travel fee",
		Kind:     models.KindCategoryRule,
		RuleText: "always add travel fee when the site is more than 30 miles out",
	}, nil)

	s.Zero(result.AntiPatternPenalty)
}

func (s *ScorerSuite) TestScore_ContradictionPenalized() {
	existing := []*models.Learning{{
		ID:         "existing-1",
		Target:     "deck labor",
		Kind:       models.KindLineItemAdjustment,
		Adjustment: 1.20,
		Confidence: 0.8,
	}}

	result := s.scorer.Score(models.CandidateLearning{
		Target:     "deck labor",
		Kind:       models.KindLineItemAdjustment,
		Adjustment: 0.85,
		Reason:     "quoted too high lately",
	}, existing)

	s.InDelta(12, result.AntiPatternPenalty, 0.01)
	s.Contains(result.Reason, "contradicts existing learning existing-1")
}

func (s *ScorerSuite) TestScore_LowConfidenceExistingDoesNotBlock() {
	existing := []*models.Learning{{
		ID:         "weak-1",
		Target:     "deck labor",
		Kind:       models.KindLineItemAdjustment,
		Adjustment: 1.20,
		Confidence: 0.3,
	}}

	result := s.scorer.Score(models.CandidateLearning{
		Target:     "deck labor",
		Kind:       models.KindLineItemAdjustment,
		Adjustment: 0.85,
		Reason:     "quoted too high lately",
	}, existing)

	s.Zero(result.AntiPatternPenalty, "a learning below the confidence bar is not established enough to defend")
}

func (s *ScorerSuite) TestScore_SpecificityMonotonic() {
	vague := s.scorer.Score(models.CandidateLearning{
		Target:     "general",
		Kind:       models.KindLineItemAdjustment,
		Adjustment: 1.10,
		Reason:     "prices trending up",
	}, nil)
	specific := s.scorer.Score(models.CandidateLearning{
		Target:      "cedar fence boards",
		Kind:        models.KindLineItemAdjustment,
		Adjustment:  1.10,
		AppliesWhen: "over 100 linear ft",
		Reason:      "prices trending up",
	}, nil)

	s.Greater(specific.QualityScore, vague.QualityScore)
}
