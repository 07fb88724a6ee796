package selector

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quotely/pricelearn/pkg/models"
)

// SelectorSuite is a test suite for injection context assembly.
type SelectorSuite struct {
	suite.Suite
	now time.Time
}

func (s *SelectorSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestSelectorSuite(t *testing.T) {
	suite.Run(t, new(SelectorSuite))
}

func (s *SelectorSuite) newSelector(config *models.SelectorConfig) *Selector {
	sel := New(config)
	sel.SetNowFunc(func() time.Time { return s.now })
	return sel
}

func (s *SelectorSuite) profile(learnings ...*models.Learning) *models.CategoryProfile {
	return &models.CategoryProfile{
		BusinessID:        "biz-1",
		Category:          "deck staining",
		Learnings:         learnings,
		OverallConfidence: 0.62,
	}
}

func (s *SelectorSuite) learning(id, target string, impact float64) *models.Learning {
	return &models.Learning{
		ID:                    id,
		Target:                target,
		Kind:                  models.KindLineItemAdjustment,
		Adjustment:            1.15,
		Confidence:            0.8,
		SampleCount:           3,
		TotalImpact:           impact,
		LastReinforcedAtEpoch: s.now.UnixMilli(),
	}
}

func (s *SelectorSuite) TestSelect_RanksByPriority() {
	low := s.learning("l-low", "cheap extras", 100)
	high := s.learning("l-high", "deck labor", 900)
	mid := s.learning("l-mid", "stain materials", 400)

	sel := s.newSelector(nil)
	ctx := sel.Select(s.profile(low, high, mid), nil)

	s.Require().Len(ctx.Learnings, 3)
	s.Equal("l-high", ctx.Learnings[0].ID)
	s.Equal("l-mid", ctx.Learnings[1].ID)
	s.Equal("l-low", ctx.Learnings[2].ID)
	s.Equal(0.62, ctx.OverallConfidence)
}

func (s *SelectorSuite) TestSelect_TieBreaksBySampleCountThenID() {
	a := s.learning("l-b", "deck labor", 500)
	b := s.learning("l-a", "stain materials", 500)
	c := s.learning("l-c", "travel fee", 500)
	c.SampleCount = 9

	sel := s.newSelector(nil)
	ctx := sel.Select(s.profile(a, b, c), nil)

	s.Require().Len(ctx.Learnings, 3)
	s.Equal("l-c", ctx.Learnings[0].ID, "more samples wins the tie")
	s.Equal("l-a", ctx.Learnings[1].ID, "then the smaller ID, for determinism")
	s.Equal("l-b", ctx.Learnings[2].ID)
}

func (s *SelectorSuite) TestSelect_ExcludesReviewOnlyAndDecayed() {
	active := s.learning("l-active", "deck labor", 500)
	review := s.learning("l-review", "stain materials", 900)
	review.ReviewOnly = true
	decayed := s.learning("l-decayed", "travel fee", 900)
	decayed.DecayFlagged = true

	sel := s.newSelector(nil)
	ctx := sel.Select(s.profile(active, review, decayed), nil)

	s.Require().Len(ctx.Learnings, 1)
	s.Equal("l-active", ctx.Learnings[0].ID)
}

func (s *SelectorSuite) TestSelect_MaxLearningsBound() {
	var learnings []*models.Learning
	for _, id := range []string{"l-1", "l-2", "l-3", "l-4", "l-5"} {
		learnings = append(learnings, s.learning(id, "target "+id, 500))
	}

	sel := s.newSelector(&models.SelectorConfig{
		MaxLearnings:        3,
		ImpactCap:           1000,
		RecencyHalfLifeDays: 30,
		RecencyFloor:        0.3,
	})
	ctx := sel.Select(s.profile(learnings...), nil)

	s.Len(ctx.Learnings, 3)
}

func (s *SelectorSuite) TestSelect_TokenBudgetStopsAtRankedOrder() {
	first := s.learning("l-first", "deck labor", 900)
	second := s.learning("l-second", "stain materials", 400)

	sel := s.newSelector(&models.SelectorConfig{
		MaxLearnings:        7,
		ImpactCap:           1000,
		RecencyHalfLifeDays: 30,
		RecencyFloor:        0.3,
		TokenBudget:         20,
	})
	ctx := sel.Select(s.profile(first, second), nil)

	s.Require().Len(ctx.Learnings, 1, "budget fits one formatted learning")
	s.Equal("l-first", ctx.Learnings[0].ID)
	s.Greater(ctx.TokenCount, 0)
	s.LessOrEqual(ctx.TokenCount, 20)
}

func (s *SelectorSuite) TestSelect_JobEmbeddingDrivesRelevance() {
	related := s.learning("l-related", "deck labor", 300)
	related.Embedding = []float32{1, 0, 0}
	unrelated := s.learning("l-unrelated", "gutter cleaning", 900)
	unrelated.Embedding = []float32{0, 1, 0}

	sel := s.newSelector(nil)
	ctx := sel.Select(s.profile(related, unrelated), []float32{1, 0, 0})

	s.Require().Len(ctx.Learnings, 2)
	s.Equal("l-related", ctx.Learnings[0].ID, "semantic match outranks raw impact")
	s.Equal("l-unrelated", ctx.Learnings[1].ID)
}

func (s *SelectorSuite) TestSelect_BuildsAdjustmentsAndRules() {
	adj := s.learning("l-adj", "deck labor", 500)
	adj.Adjustment = 1.20
	rule := &models.Learning{
		ID:                    "l-rule",
		Kind:                  models.KindCategoryRule,
		RuleText:              "Add a travel fee for jobs more than 30 miles out",
		AppliesWhen:           "distance exceeds 30 miles",
		Confidence:            0.7,
		SampleCount:           4,
		TotalImpact:           400,
		LastReinforcedAtEpoch: s.now.UnixMilli(),
	}

	sel := s.newSelector(nil)
	ctx := sel.Select(s.profile(adj, rule), nil)

	s.Require().Len(ctx.Learnings, 2)
	s.Equal(1.20, ctx.Adjustments["deck labor"])
	s.Require().Len(ctx.Rules, 1)
	s.Equal(rule.RuleText, ctx.Rules[0])
	s.Contains(ctx.Summary, "Increase deck labor by 20%")
	s.Contains(ctx.Summary, "When distance exceeds 30 miles")
}

func (s *SelectorSuite) TestSelect_EmptyProfile() {
	sel := s.newSelector(nil)
	ctx := sel.Select(s.profile(), nil)

	s.Empty(ctx.Learnings)
	s.Empty(ctx.Adjustments)
	s.Empty(strings.TrimSpace(ctx.Summary))
	s.Zero(ctx.TokenCount)
}
