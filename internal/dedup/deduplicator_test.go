package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quotely/pricelearn/pkg/models"
)

// DeduplicatorSuite is a test suite for the Deduplicator.
type DeduplicatorSuite struct {
	suite.Suite
	dedup *Deduplicator
	now   time.Time
}

func (s *DeduplicatorSuite) SetupTest() {
	s.dedup = NewDeduplicator(models.DefaultDedupConfig(), models.DefaultLearningRateTable())
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestDeduplicatorSuite(t *testing.T) {
	suite.Run(t, new(DeduplicatorSuite))
}

func adjustment(target string, factor float64, reason string, vec []float32) *models.Learning {
	return &models.Learning{
		ID:          models.NewLearningID(),
		Target:      target,
		Kind:        models.KindLineItemAdjustment,
		Adjustment:  factor,
		Reason:      reason,
		Confidence:  0.5,
		SampleCount: 1,
		Embedding:   vec,
	}
}

func (s *DeduplicatorSuite) TestMatch_EmbeddingSimilarity() {
	existing := adjustment("deck labor", 1.15, "labor underquoted", []float32{1, 0, 0.05})
	incoming := adjustment("Deck  Labor", 1.20, "labor priced too low", []float32{1, 0.01, 0.04})

	match, sim := s.dedup.Match(incoming, []*models.Learning{existing})

	s.Same(existing, match)
	s.GreaterOrEqual(sim, 0.90)
}

func (s *DeduplicatorSuite) TestMatch_DifferentTargetNeverMatches() {
	existing := adjustment("deck labor", 1.15, "labor underquoted", []float32{1, 0, 0})
	incoming := adjustment("stain materials", 1.15, "labor underquoted", []float32{1, 0, 0})

	match, _ := s.dedup.Match(incoming, []*models.Learning{existing})

	s.Nil(match, "identical vectors on different targets are different patterns")
}

func (s *DeduplicatorSuite) TestMatch_TermFallbackWithoutEmbeddings() {
	existing := adjustment("deck labor", 1.15, "crew hours always run over estimate", nil)
	incoming := adjustment("deck labor", 1.18, "crew hours run over the estimate", nil)

	match, sim := s.dedup.Match(incoming, []*models.Learning{existing})

	s.Same(existing, match)
	s.GreaterOrEqual(sim, 0.65)
}

func (s *DeduplicatorSuite) TestMerge_SampleCountIncrementsByExactlyOne() {
	existing := adjustment("deck labor", 1.15, "labor underquoted", nil)
	incoming := adjustment("deck labor", 1.25, "labor underquoted", nil)
	incoming.SampleCount = 7 // merging must not absorb the incoming count

	s.dedup.Merge(existing, incoming, s.now)

	s.Equal(2, existing.SampleCount)
}

func (s *DeduplicatorSuite) TestMerge_DynamicLearningRate() {
	existing := adjustment("deck labor", 1.10, "labor underquoted", nil)
	incoming := adjustment("deck labor", 1.30, "labor underquoted", nil)

	// sample_count 1 < 5 gives the incoming evidence a 0.60 weight.
	s.dedup.Merge(existing, incoming, s.now)
	s.InDelta(1.22, existing.Adjustment, 0.0001)

	// At an established count the same evidence barely moves the needle.
	established := adjustment("deck labor", 1.10, "labor underquoted", nil)
	established.SampleCount = 20
	s.dedup.Merge(established, incoming, s.now)
	s.InDelta(1.13, established.Adjustment, 0.0001)
}

func (s *DeduplicatorSuite) TestMerge_HigherQualityStatementWins() {
	existing := adjustment("deck labor", 1.15, "went up", nil)
	existing.Quality.QualityScore = 45
	incoming := adjustment("deck labor", 1.15, "crew hours run 15% over on stained decks", nil)
	incoming.Quality.QualityScore = 80

	s.dedup.Merge(existing, incoming, s.now)

	s.Equal("crew hours run 15% over on stained decks", existing.Reason)
	s.InDelta(80, existing.Quality.QualityScore, 0.01)
}

func (s *DeduplicatorSuite) TestMerge_ReinforcementLiftsReviewFlag() {
	existing := adjustment("deck labor", 1.15, "labor underquoted", nil)
	existing.ReviewOnly = true
	incoming := adjustment("deck labor", 1.18, "labor underquoted", nil)

	s.dedup.Merge(existing, incoming, s.now)

	s.False(existing.ReviewOnly)
}

func (s *DeduplicatorSuite) TestMerge_RepeatedCorrectionsConverge() {
	existing := adjustment("deck labor", 1.02, "labor underquoted", nil)

	// Five consistent +15% corrections pull the stored factor within 5%.
	for i := 0; i < 5; i++ {
		incoming := adjustment("deck labor", 1.15, "labor underquoted", nil)
		s.dedup.Merge(existing, incoming, s.now)
	}

	s.Equal(6, existing.SampleCount)
	s.InDelta(1.15, existing.Adjustment, 1.15*0.05)
}
