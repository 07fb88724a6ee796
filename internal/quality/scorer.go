// Package quality provides rubric scoring for candidate learning statements.
package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quotely/pricelearn/pkg/models"
	"github.com/quotely/pricelearn/pkg/similarity"
)

// Decision is the admission decision for a scored candidate.
type Decision string

const (
	// DecisionReject discards the candidate; only the rejection reason is logged.
	DecisionReject Decision = "reject"
	// DecisionReview stores the candidate flagged low-confidence, excluded from injection.
	DecisionReview Decision = "review"
	// DecisionRefine stores the candidate, eligible for bounded re-extraction retries.
	DecisionRefine Decision = "refine"
	// DecisionAccept stores the candidate normally.
	DecisionAccept Decision = "accept"
)

// Result contains the rubric breakdown and the admission decision for one
// candidate. Mirrors the sub-score structure persisted on the learning.
type Result struct {
	Specificity        float64  `json:"specificity"`
	Actionability      float64  `json:"actionability"`
	Clarity            float64  `json:"clarity"`
	AntiPatternPenalty float64  `json:"anti_pattern_penalty"`
	QualityScore       float64  `json:"quality_score"`
	Decision           Decision `json:"decision"`
	Reason             string   `json:"reason,omitempty"`
}

// Scores converts the result into the persisted sub-score form.
func (r Result) Scores() models.QualityScores {
	return models.QualityScores{
		Specificity:        r.Specificity,
		Actionability:      r.Actionability,
		Clarity:            r.Clarity,
		AntiPatternPenalty: r.AntiPatternPenalty,
		QualityScore:       r.QualityScore,
	}
}

// Scorer scores candidate learning statements on a 0-100 rubric, rejecting
// low-quality noise before it enters the store.
type Scorer struct {
	config *models.QualityConfig
	vague  map[string]bool
}

// NewScorer creates a new quality scorer.
// If config is nil, uses the default configuration.
func NewScorer(config *models.QualityConfig) *Scorer {
	if config == nil {
		config = models.DefaultQualityConfig()
	}
	vague := make(map[string]bool, len(config.VagueTargets))
	for _, t := range config.VagueTargets {
		vague[models.NormalizeTarget(t)] = true
	}
	return &Scorer{config: config, vague: vague}
}

// measurablePattern matches numeric thresholds and comparison conditions
// ("over 2 stories", "> 500 sqft", "before 8am").
var measurablePattern = regexp.MustCompile(`\d|[<>]=?|\b(over|under|above|below|more than|less than|at least|at most)\b`)

// conditionalPattern matches qualification words that scope a claim.
var conditionalPattern = regexp.MustCompile(`\b(when|if|unless|except|only|during|while|after|before)\b`)

// absolutePattern matches unqualified absolute claims.
var absolutePattern = regexp.MustCompile(`\b(always|never|all|every|everything|any job|no matter)\b`)

// Score evaluates a candidate against the rubric. The existing learnings of the
// same category are consulted only for the contradiction anti-pattern check.
//
//	quality_score = clamp(specificity + actionability + clarity - anti_pattern_penalty, 0, 100)
//
// A malformed candidate (no target, or neither an adjustment nor rule text) is
// rejected with a validation reason; malformed input never escapes this boundary.
func (s *Scorer) Score(candidate models.CandidateLearning, existing []*models.Learning) Result {
	if err := validate(candidate); err != nil {
		return Result{Decision: DecisionReject, Reason: err.Error()}
	}

	spec := s.specificity(candidate)
	act := s.actionability(candidate)
	clar := s.clarity(candidate)
	penalty, penaltyReason := s.antiPatternPenalty(candidate, existing)

	score := spec + act + clar - penalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	result := Result{
		Specificity:        spec,
		Actionability:      act,
		Clarity:            clar,
		AntiPatternPenalty: penalty,
		QualityScore:       score,
	}

	switch {
	case score < s.config.RejectBelow:
		result.Decision = DecisionReject
		result.Reason = rejectReason(penaltyReason, spec, act)
	case score <= s.config.ReviewBelow:
		result.Decision = DecisionReview
	case score <= s.config.RefineBelow:
		result.Decision = DecisionRefine
	default:
		result.Decision = DecisionAccept
	}
	return result
}

func validate(c models.CandidateLearning) error {
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("candidate missing target")
	}
	if c.Adjustment == 0 && strings.TrimSpace(c.RuleText) == "" {
		return fmt.Errorf("candidate %q has neither adjustment nor rule text", c.Target)
	}
	if c.Adjustment < 0 {
		return fmt.Errorf("candidate %q has negative adjustment factor %.2f", c.Target, c.Adjustment)
	}
	return nil
}

// specificity rewards concrete numeric adjustments, named targets and
// measurable conditions; vague targets score near zero.
func (s *Scorer) specificity(c models.CandidateLearning) float64 {
	score := 0.0

	if s.vague[models.NormalizeTarget(c.Target)] {
		// Vague targets forfeit the target and condition points entirely.
		score = 0
	} else {
		score += 12
		if len(strings.Fields(c.Target)) > 1 {
			// Multi-word targets name a concrete line item.
			score += 3
		}
	}

	if c.Adjustment != 0 {
		score += 12
	} else if measurablePattern.MatchString(c.RuleText) {
		score += 8
	}

	if c.AppliesWhen != "" && measurablePattern.MatchString(c.AppliesWhen) {
		score += 8
	} else if c.AppliesWhen != "" {
		score += 4
	}

	return min(score, s.config.SpecificityMax)
}

// actionability rewards statements that translate directly into a multiplier
// or an injectable rule; purely descriptive statements score low.
func (s *Scorer) actionability(c models.CandidateLearning) float64 {
	score := 0.0

	switch {
	case c.Adjustment != 0:
		score += 18
	case c.RuleText != "" && c.AppliesWhen != "":
		score += 15
	case c.RuleText != "":
		// Descriptive rule with no operational predicate.
		score += 6
	}

	if c.SupportingExamples > 1 {
		score += 4
	}
	if c.ImpactDollars > 0 {
		score += 3
	}

	return min(score, s.config.ActionabilityMax)
}

// clarity rewards single-claim statements and penalizes compound or
// self-contradictory ones.
func (s *Scorer) clarity(c models.CandidateLearning) float64 {
	score := s.config.ClarityMax

	text := strings.ToLower(strings.TrimSpace(c.Reason + " " + c.RuleText))
	if text == "" {
		return score - 4
	}

	// Compound statements: each extra clause costs points.
	clauses := strings.Count(text, ";") + strings.Count(text, " and also ") + strings.Count(text, " but ")
	score -= float64(clauses) * 5

	// Self-contradiction within the statement.
	if strings.Contains(text, "always") && strings.Contains(text, "except") {
		score -= 8
	}
	if strings.Contains(text, "increase") && strings.Contains(text, "decrease") {
		score -= 8
	}

	if score < 0 {
		score = 0
	}
	return score
}

// antiPatternPenalty detects banned statement patterns: unqualified absolute
// claims, statements that merely restate the input, and statements that
// contradict a higher-confidence existing learning on the same target.
func (s *Scorer) antiPatternPenalty(c models.CandidateLearning, existing []*models.Learning) (float64, string) {
	penalty := 0.0
	reason := ""

	text := strings.ToLower(c.Reason + " " + c.RuleText)
	if absolutePattern.MatchString(text) && !conditionalPattern.MatchString(text) {
		penalty += 10
		reason = "absolute claim without qualification"
	}

	// A reason that only repeats the target carries no new signal.
	if c.Reason != "" && similarity.TermSimilarity(c.Reason, c.Target) >= 0.9 {
		penalty += 8
		if reason == "" {
			reason = "statement restates its own target"
		}
	}

	if l := contradicted(c, existing, s.config.ContradictionMinConfidence); l != nil {
		penalty += 12
		reason = fmt.Sprintf("contradicts existing learning %s (confidence %.2f)", l.ID, l.Confidence)
	}

	return min(penalty, s.config.AntiPatternMax), reason
}

// contradicted returns an established learning the candidate opposes, or nil.
func contradicted(c models.CandidateLearning, existing []*models.Learning, minConfidence float64) *models.Learning {
	if c.Adjustment == 0 {
		return nil
	}
	norm := models.NormalizeTarget(c.Target)
	candidateDir := 1
	if c.Adjustment < 1.0 {
		candidateDir = -1
	}
	for _, l := range existing {
		if l.Confidence < minConfidence || models.NormalizeTarget(l.Target) != norm {
			continue
		}
		if dir := l.Direction(); dir != 0 && dir != candidateDir {
			return l
		}
	}
	return nil
}

func rejectReason(penaltyReason string, spec, act float64) string {
	if penaltyReason != "" {
		return penaltyReason
	}
	if spec < 10 {
		return "statement too vague to act on"
	}
	if act < 10 {
		return "statement has no operational effect"
	}
	return "below quality threshold"
}
