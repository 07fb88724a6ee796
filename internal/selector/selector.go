// Package selector ranks a profile's learnings and assembles the bounded
// injection context for quote generation.
package selector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/quotely/pricelearn/internal/scoring"
	"github.com/quotely/pricelearn/pkg/models"
	"github.com/quotely/pricelearn/pkg/similarity"
)

// Selector picks the top learnings for a job and formats them within a
// token budget.
type Selector struct {
	config   *models.SelectorConfig
	priority scoring.Config
	codec    tokenizer.Codec
	now      func() time.Time
}

// New returns a selector. The token codec is loaded once; when loading
// fails the selector falls back to a bytes/4 estimate.
func New(config *models.SelectorConfig) *Selector {
	if config == nil {
		config = models.DefaultSelectorConfig()
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("Token codec unavailable, using byte estimate")
		codec = nil
	}
	return &Selector{
		config: config,
		priority: scoring.Config{
			ImpactCap:           config.ImpactCap,
			RecencyHalfLifeDays: config.RecencyHalfLifeDays,
			RecencyFloor:        config.RecencyFloor,
		},
		codec: codec,
		now:   time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (s *Selector) SetNowFunc(now func() time.Time) { s.now = now }

type ranked struct {
	learning *models.Learning
	score    float64
}

// Select ranks the profile's learnings against the job and returns the
// injection context. jobEmbedding may be nil; relevance then defaults to 1.0
// and ranking degrades to impact, confidence and recency.
func (s *Selector) Select(profile *models.CategoryProfile, jobEmbedding []float32) *models.InjectionContext {
	now := s.now()

	candidates := make([]ranked, 0, len(profile.Learnings))
	for _, l := range candidates0(profile) {
		relevance := 1.0
		if len(jobEmbedding) > 0 && len(l.Embedding) > 0 {
			relevance = similarity.Cosine(jobEmbedding, l.Embedding)
			if relevance < 0 {
				relevance = 0
			}
		}
		candidates = append(candidates, ranked{l, s.priority.Priority(l, now, relevance)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].learning.SampleCount != candidates[j].learning.SampleCount {
			return candidates[i].learning.SampleCount > candidates[j].learning.SampleCount
		}
		return candidates[i].learning.ID < candidates[j].learning.ID
	})

	if len(candidates) > s.config.MaxLearnings {
		candidates = candidates[:s.config.MaxLearnings]
	}

	ctx := &models.InjectionContext{
		BusinessID:        profile.BusinessID,
		Category:          profile.Category,
		Adjustments:       make(map[string]float64),
		OverallConfidence: profile.OverallConfidence,
		ReviewFlag:        profile.ReviewFlag,
	}

	var lines []string
	budget := s.config.TokenBudget
	for _, c := range candidates {
		line := formatLearning(c.learning)
		cost := s.countTokens(line)
		if budget > 0 && ctx.TokenCount+cost > budget {
			// Ranked order means everything past this point scores lower;
			// stop rather than pack smaller, weaker learnings.
			break
		}
		ctx.TokenCount += cost
		lines = append(lines, line)
		ctx.Learnings = append(ctx.Learnings, c.learning)

		switch c.learning.Kind {
		case models.KindLineItemAdjustment:
			ctx.Adjustments[c.learning.Target] = c.learning.Adjustment
		case models.KindCategoryRule, models.KindGlobalPattern:
			ctx.Rules = append(ctx.Rules, c.learning.RuleText)
		}
	}
	ctx.Summary = strings.Join(lines, "\n")
	return ctx
}

// candidates0 filters out learnings that must never be injected.
func candidates0(profile *models.CategoryProfile) []*models.Learning {
	out := make([]*models.Learning, 0, len(profile.Learnings))
	for _, l := range profile.Learnings {
		if l.ReviewOnly || l.DecayFlagged {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (s *Selector) countTokens(text string) int {
	if s.codec != nil {
		if n, err := s.codec.Count(text); err == nil {
			return n
		}
	}
	return len(text)/4 + 1
}

func formatLearning(l *models.Learning) string {
	switch l.Kind {
	case models.KindLineItemAdjustment:
		direction := "Increase"
		if l.Adjustment < 1.0 {
			direction = "Decrease"
		}
		return fmt.Sprintf("%s %s by %.0f%% (seen %dx, confidence %.2f)",
			direction, l.Target, abs(l.Adjustment-1.0)*100, l.SampleCount, l.Confidence)
	case models.KindCategoryRule:
		if l.AppliesWhen != "" {
			return fmt.Sprintf("When %s: %s (confidence %.2f)", l.AppliesWhen, l.RuleText, l.Confidence)
		}
		return fmt.Sprintf("%s (confidence %.2f)", l.RuleText, l.Confidence)
	default:
		return fmt.Sprintf("%s (confidence %.2f)", l.StatementText(), l.Confidence)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
