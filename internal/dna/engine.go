// Package dna extracts cross-category pricing patterns from a business's
// full learning history and bootstraps sparse categories with them.
package dna

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quotely/pricelearn/internal/calibration"
	"github.com/quotely/pricelearn/internal/store"
	"github.com/quotely/pricelearn/pkg/models"
)

// Engine runs the contractor DNA analysis.
type Engine struct {
	config     *models.DNAConfig
	calibrator *calibration.Calibrator
	store      store.ProfileStore
	now        func() time.Time
}

// New returns an engine over the given store. The calibrator recomputes a
// profile's confidence after a bootstrap write, like any other mutation.
func New(config *models.DNAConfig, calibrator *calibration.Calibrator, st store.ProfileStore) *Engine {
	if config == nil {
		config = models.DefaultDNAConfig()
	}
	if calibrator == nil {
		calibrator = calibration.NewCalibrator(nil)
	}
	return &Engine{config: config, calibrator: calibrator, store: st, now: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (e *Engine) SetNowFunc(now func() time.Time) { e.now = now }

// group accumulates same-target learnings across categories.
type group struct {
	target   string
	kind     models.LearningKind
	members  []*models.Learning
	byCat    map[string]*models.Learning
}

// Run analyzes all of a business's categories, extracts universal and
// partial patterns, and bootstraps sparse categories from the universal
// tier. The snapshot is read once; bootstrap writes go through the normal
// optimistic Apply path, so a concurrent correction never gets lost.
func (e *Engine) Run(ctx context.Context, businessID string) (*models.ContractorDNA, error) {
	profiles, err := e.store.Snapshot(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", businessID, err)
	}

	dna := &models.ContractorDNA{
		BusinessID:         businessID,
		CategoriesAnalyzed: len(profiles),
		GeneratedAtEpoch:   e.now().UnixMilli(),
	}

	if len(profiles) < e.config.MinCategories {
		log.Info().
			Str("business_id", businessID).
			Int("categories", len(profiles)).
			Int("min", e.config.MinCategories).
			Msg("Too few categories for DNA analysis")
		return dna, nil
	}

	for _, g := range e.groupLearnings(profiles) {
		pattern, ok := e.extractPattern(g, len(profiles))
		if !ok {
			continue
		}
		switch pattern.Tier {
		case models.TierUniversal:
			dna.UniversalPatterns = append(dna.UniversalPatterns, pattern)
		case models.TierPartial:
			dna.PartialPatterns = append(dna.PartialPatterns, pattern)
		}
	}

	bootstrapped, err := e.bootstrap(ctx, businessID, profiles, dna)
	if err != nil {
		return nil, err
	}
	dna.Bootstrapped = bootstrapped

	log.Info().
		Str("business_id", businessID).
		Int("universal", len(dna.UniversalPatterns)).
		Int("partial", len(dna.PartialPatterns)).
		Int("bootstrapped", dna.Bootstrapped).
		Msg("DNA analysis complete")
	return dna, nil
}

func (e *Engine) groupLearnings(profiles []*models.CategoryProfile) []*group {
	groups := make(map[string]*group)
	for _, p := range profiles {
		for _, l := range p.Learnings {
			if l.ReviewOnly || l.DecayFlagged || l.Adjustment == 0 {
				continue
			}
			key := string(l.Kind) + "\x00" + models.NormalizeTarget(l.Target)
			g, ok := groups[key]
			if !ok {
				g = &group{
					target: models.NormalizeTarget(l.Target),
					kind:   l.Kind,
					byCat:  make(map[string]*models.Learning),
				}
				groups[key] = g
			}
			g.members = append(g.members, l)
			// One learning per category per group; keep the higher confidence.
			if prev, ok := g.byCat[p.Category]; !ok || l.Confidence > prev.Confidence {
				g.byCat[p.Category] = l
			}
		}
	}

	out := make([]*group, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].target < out[j].target })
	return out
}

// extractPattern decides whether a group is a universal or partial pattern.
// A category exhibits the pattern when its learning shares the dominant
// direction and its magnitude sits within the tolerance of the group mean.
func (e *Engine) extractPattern(g *group, analyzed int) (models.DNAPattern, bool) {
	direction := dominantDirection(g.byCat)
	if direction == 0 {
		return models.DNAPattern{}, false
	}

	// Magnitudes are measured relative to 1.0 (1.15 is a 15% bump).
	var sum float64
	var n int
	for _, l := range g.byCat {
		if l.Direction() == direction {
			sum += l.Adjustment - 1.0
			n++
		}
	}
	mean := sum / float64(n)

	var categories []string
	var confSum, adjSum float64
	for cat, l := range g.byCat {
		if l.Direction() != direction {
			continue
		}
		if math.Abs((l.Adjustment-1.0)-mean) > e.config.MagnitudeTolerance*math.Abs(mean) {
			continue
		}
		categories = append(categories, cat)
		confSum += l.Confidence
		adjSum += l.Adjustment
	}
	if len(categories) == 0 {
		return models.DNAPattern{}, false
	}
	sort.Strings(categories)

	share := float64(len(categories)) / float64(analyzed)
	pattern := models.DNAPattern{
		Target:           g.target,
		Kind:             g.kind,
		Direction:        direction,
		AvgAdjustment:    adjSum / float64(len(categories)),
		Categories:       categories,
		Share:            share,
		SourceConfidence: confSum / float64(len(categories)),
	}

	switch {
	case share >= e.config.UniversalThreshold:
		pattern.Tier = models.TierUniversal
	case share >= e.config.PartialMin:
		pattern.Tier = models.TierPartial
	default:
		return models.DNAPattern{}, false
	}
	return pattern, true
}

func dominantDirection(byCat map[string]*models.Learning) int {
	var up, down int
	for _, l := range byCat {
		switch l.Direction() {
		case 1:
			up++
		case -1:
			down++
		}
	}
	if up > down {
		return 1
	}
	if down > up {
		return -1
	}
	return 0
}

// bootstrap writes universal patterns into sparse categories that have not
// yet learned the target. Partial patterns stay within their observed
// categories, so they only reinforce sparse members that already carry the
// learning. Writes fan out per category; keys are disjoint so the
// optimistic commits never contend with each other.
func (e *Engine) bootstrap(ctx context.Context, businessID string, profiles []*models.CategoryProfile, dna *models.ContractorDNA) (int, error) {
	var count atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)

	for _, p := range profiles {
		if p.TotalSamples() >= e.config.BootstrapSampleThreshold {
			continue
		}

		category := p.Category
		var transfers []models.DNAPattern
		for _, pattern := range dna.UniversalPatterns {
			if p.FindByTarget(pattern.Target, models.KindGlobalPattern) == nil &&
				p.FindByTarget(pattern.Target, pattern.Kind) == nil {
				transfers = append(transfers, pattern)
			}
		}
		if len(transfers) == 0 {
			continue
		}

		eg.Go(func() error {
			// added resets per mutate run; the optimistic loop may re-run it.
			var added int64
			_, err := e.store.Apply(ctx, businessID, category, func(profile *models.CategoryProfile) error {
				added = 0
				for _, pattern := range transfers {
					if profile.FindByTarget(pattern.Target, models.KindGlobalPattern) != nil {
						continue
					}
					profile.Learnings = append(profile.Learnings, e.transferLearning(businessID, category, pattern))
					added++
				}
				if added > 0 {
					e.calibrator.Recalculate(profile, e.now())
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("bootstrap %s/%s: %w", businessID, category, err)
			}
			count.Add(added)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return int(count.Load()), nil
}

func (e *Engine) transferLearning(businessID, category string, pattern models.DNAPattern) *models.Learning {
	factor := e.config.UniversalConfidenceFactor
	if pattern.Tier == models.TierPartial {
		factor = e.config.PartialConfidenceFactor
	}

	direction := "above"
	if pattern.Direction < 0 {
		direction = "below"
	}
	now := e.now().UnixMilli()

	return &models.Learning{
		ID:         models.NewLearningID(),
		BusinessID: businessID,
		Category:   category,
		Kind:       models.KindGlobalPattern,
		Target:     pattern.Target,
		Adjustment: pattern.AvgAdjustment,
		RuleText: fmt.Sprintf("This business typically prices %s %.0f%% %s the initial estimate",
			pattern.Target, math.Abs(pattern.AvgAdjustment-1.0)*100, direction),
		Reason:                fmt.Sprintf("Observed across %d categories", len(pattern.Categories)),
		Confidence:            pattern.SourceConfidence * factor,
		SampleCount:           1,
		Source:                models.SourceDNATransfer,
		CreatedAtEpoch:        now,
		LastReinforcedAtEpoch: now,
		Version:               1,
	}
}
