// Package engine wires the correction pipeline end to end: extraction,
// quality scoring, deduplication, calibration and storage behind four
// operations. Every event commits through a single store Apply, so a
// profile is never left half-updated.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/quotely/pricelearn/internal/calibration"
	"github.com/quotely/pricelearn/internal/dedup"
	"github.com/quotely/pricelearn/internal/dna"
	"github.com/quotely/pricelearn/internal/embedding"
	"github.com/quotely/pricelearn/internal/extraction"
	"github.com/quotely/pricelearn/internal/outcome"
	"github.com/quotely/pricelearn/internal/quality"
	"github.com/quotely/pricelearn/internal/selector"
	"github.com/quotely/pricelearn/internal/store"
	"github.com/quotely/pricelearn/internal/telemetry"
	"github.com/quotely/pricelearn/pkg/models"
)

// ErrInvalidEvent marks an event rejected before processing.
var ErrInvalidEvent = errors.New("invalid event")

// DefaultEventTimeout bounds one event's end-to-end processing.
const DefaultEventTimeout = 10 * time.Second

// initial confidence by admission band; merges and outcomes move it from here.
const (
	initialConfidenceAccept = 0.5
	initialConfidenceReview = 0.3
)

// Engine is the pipeline orchestrator.
type Engine struct {
	source    func() *models.Tunables
	store     store.ProfileStore
	embedder  *embedding.Service
	extractor extraction.Extractor
	metrics   *telemetry.Metrics

	// comp holds everything derived from one tunable snapshot; it is rebuilt
	// as a unit when the source swaps the snapshot, so an event never mixes
	// thresholds from two generations.
	comp atomic.Pointer[components]

	eventTimeout time.Duration
	now          func() time.Time
}

// components bundles the tunable-bearing collaborators for one snapshot.
type components struct {
	tunables   *models.Tunables
	scorer     *quality.Scorer
	calibrator *calibration.Calibrator
	dedup      *dedup.Deduplicator
	selector   *selector.Selector
	learner    *outcome.Learner
	dnaEngine  *dna.Engine
}

// Options carries the engine's external collaborators. Extractor and
// Embedder are optional; the engine degrades to structural extraction and
// term-overlap similarity without them. TunablesSource, when set, is
// consulted per event so a hot reload applies without a restart; Tunables is
// the static fallback.
type Options struct {
	Tunables       *models.Tunables
	TunablesSource func() *models.Tunables
	Store          store.ProfileStore
	Extractor      extraction.Extractor
	Embedder       *embedding.Service
	Metrics        *telemetry.Metrics
	EventTimeout   time.Duration
}

// New assembles an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine requires a profile store")
	}
	source := opts.TunablesSource
	if source == nil {
		tunables := opts.Tunables
		if tunables == nil {
			tunables = models.DefaultTunables()
		}
		source = func() *models.Tunables { return tunables }
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = extraction.Structural{}
	}
	embedder := opts.Embedder
	if embedder == nil {
		embedder = embedding.NewService(nil)
	}
	timeout := opts.EventTimeout
	if timeout <= 0 {
		timeout = DefaultEventTimeout
	}

	e := &Engine{
		source:       source,
		store:        opts.Store,
		embedder:     embedder,
		extractor:    extractor,
		metrics:      opts.Metrics,
		eventTimeout: timeout,
		now:          time.Now,
	}
	e.comp.Store(e.buildComponents(source()))
	return e, nil
}

func (e *Engine) buildComponents(tunables *models.Tunables) *components {
	if tunables == nil {
		tunables = models.DefaultTunables()
	}
	calibrator := calibration.NewCalibrator(tunables.Calibration)
	return &components{
		tunables:   tunables,
		scorer:     quality.NewScorer(tunables.Quality),
		calibrator: calibrator,
		dedup:      dedup.NewDeduplicator(tunables.Dedup, tunables.LearningRate),
		selector:   selector.New(tunables.Selector),
		learner:    outcome.NewLearner(tunables.Outcome, calibrator),
		dnaEngine:  dna.New(tunables.DNA, calibrator, e.store),
	}
}

// components returns the bundle for the current tunable snapshot, rebuilding
// it when the source has swapped in a reloaded set. Concurrent rebuilds race
// benignly: both build from the same snapshot.
func (e *Engine) components() *components {
	c := e.comp.Load()
	if t := e.source(); t != nil && t != c.tunables {
		log.Debug().Msg("Tunables changed, rebuilding pipeline components")
		c = e.buildComponents(t)
		e.comp.Store(c)
	}
	return c
}

// SetNowFunc overrides the clock. Tests only.
func (e *Engine) SetNowFunc(now func() time.Time) { e.now = now }

// RecordCorrection processes one quote correction. Extraction and embedding
// run outside the store transaction; admission, merging and calibration run
// inside a single Apply. A failed attempt is requeued once before the event
// is dead-lettered.
func (e *Engine) RecordCorrection(ctx context.Context, event *models.CorrectionEvent) (*models.IngestResult, error) {
	if err := validateCorrection(event); err != nil {
		return nil, err
	}
	telemetry.Add(ctx, metricsCounter(e.metrics).CorrectionsReceived, event.BusinessID)

	result, err := e.processCorrection(ctx, event)
	if err != nil && requeueable(err) {
		log.Warn().Err(err).Str("business_id", event.BusinessID).Msg("Correction attempt failed, requeueing once")
		result, err = e.processCorrection(ctx, event)
	}
	if err != nil {
		e.deadLetter(event.BusinessID, event.Category, "correction", event, err)
		return nil, err
	}
	return result, nil
}

// processCorrection is one full attempt under its own event deadline, so a
// requeue starts with a fresh budget instead of the spent one.
func (e *Engine) processCorrection(ctx context.Context, event *models.CorrectionEvent) (*models.IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.eventTimeout)
	defer cancel()

	c := e.components()
	candidates := e.extractCandidates(ctx, event)
	vectors := e.embedCandidates(ctx, candidates)
	return e.ingest(ctx, c, event, candidates, vectors)
}

// requeueable reports whether one more attempt can plausibly succeed: store
// contention and a blown event deadline are transient, a validation or
// serialization failure is not.
func requeueable(err error) bool {
	return errors.Is(err, store.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func validateCorrection(event *models.CorrectionEvent) error {
	if event == nil || event.BusinessID == "" || event.Category == "" {
		return fmt.Errorf("%w: business_id and category are required", ErrInvalidEvent)
	}
	if len(event.Lines) == 0 && event.FreeText == "" {
		return fmt.Errorf("%w: correction carries no lines and no free text", ErrInvalidEvent)
	}
	return nil
}

func (e *Engine) extractCandidates(ctx context.Context, event *models.CorrectionEvent) []*models.CandidateLearning {
	candidates, err := e.extractor.ExtractCandidates(ctx, event)
	if err != nil {
		log.Warn().Err(err).
			Str("business_id", event.BusinessID).
			Msg("Extraction service failed, falling back to structural extraction")
		candidates, _ = extraction.Structural{}.ExtractCandidates(ctx, event)
	}
	return candidates
}

// embedCandidates returns one vector per candidate, index-aligned; nil
// entries mean no vector and dedup falls back to term overlap.
func (e *Engine) embedCandidates(ctx context.Context, candidates []*models.CandidateLearning) [][]float32 {
	vectors := make([][]float32, len(candidates))
	if !e.embedder.Available() || len(candidates) == 0 {
		return vectors
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = candidateStatement(c)
	}
	if batch := e.embedder.EmbedBatch(ctx, texts); len(batch) == len(candidates) {
		copy(vectors, batch)
	}
	return vectors
}

func candidateStatement(c *models.CandidateLearning) string {
	if c.Kind == models.KindLineItemAdjustment {
		return fmt.Sprintf("%s adjust %.2f %s", c.Target, c.Adjustment, c.Reason)
	}
	return c.Target + " " + c.RuleText + " " + c.AppliesWhen
}

func (e *Engine) ingest(ctx context.Context, c *components, event *models.CorrectionEvent, candidates []*models.CandidateLearning, vectors [][]float32) (*models.IngestResult, error) {
	result := &models.IngestResult{}
	now := e.now()
	eventEpoch := event.OccurredAtEpoch
	if eventEpoch == 0 {
		eventEpoch = now.UnixMilli()
	}

	_, err := e.store.Apply(ctx, event.BusinessID, event.Category, func(profile *models.CategoryProfile) error {
		*result = models.IngestResult{}

		for _, line := range event.Lines {
			delta := line.CorrectedAmount - line.OriginalAmount
			profile.AddCorrectionSample(models.CorrectionSample{
				Target:           line.Target,
				Direction:        sign(delta),
				Magnitude:        math.Abs(delta),
				OriginalEstimate: line.OriginalAmount,
				JobSubType:       event.JobSubType,
				AtEpoch:          eventEpoch,
			})
		}
		if event.QuoteTotal > 0 {
			profile.ObservePrice(event.QuoteTotal)
		}

		for i, candidate := range candidates {
			e.admit(ctx, c, profile, candidate, vectors[i], now, result)
		}

		// An engaged correction is weak positive signal: the business is
		// still refining rather than abandoning the category.
		if result.Accepted+result.Merged > 0 {
			profile.ConfidenceBoost += c.learner.CorrectionBoost()
		}

		c.calibrator.Recalculate(profile, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := metricsCounter(e.metrics)
	for i := 0; i < result.Accepted; i++ {
		telemetry.Add(ctx, m.CandidatesAccepted, event.BusinessID)
	}
	for i := 0; i < result.Rejected; i++ {
		telemetry.Add(ctx, m.CandidatesRejected, event.BusinessID)
	}
	for i := 0; i < result.Merged; i++ {
		telemetry.Add(ctx, m.CandidatesMerged, event.BusinessID)
	}
	for i := 0; i < result.Review; i++ {
		telemetry.Add(ctx, m.CandidatesReview, event.BusinessID)
	}
	return result, nil
}

// admit scores one candidate and either rejects it, merges it into an
// existing learning, or appends it to the profile.
func (e *Engine) admit(ctx context.Context, c *components, profile *models.CategoryProfile, candidate *models.CandidateLearning, vector []float32, now time.Time, result *models.IngestResult) {
	scored := c.scorer.Score(*candidate, profile.Learnings)

	for retries := 0; scored.Decision == quality.DecisionRefine && retries < c.tunables.Quality.MaxRefineRetries; retries++ {
		refined, err := e.extractor.Refine(ctx, candidate, scored.Reason)
		if err != nil || refined == nil {
			break
		}
		candidate = refined
		scored = c.scorer.Score(*candidate, profile.Learnings)
	}
	if scored.Decision == quality.DecisionRefine {
		// Refinement exhausted; keep the statement but quarantine it.
		scored.Decision = quality.DecisionReview
	}

	if scored.Decision == quality.DecisionReject {
		result.Rejected++
		log.Info().
			Str("business_id", profile.BusinessID).
			Str("category", profile.Category).
			Str("target", candidate.Target).
			Float64("quality_score", scored.QualityScore).
			Str("reason", scored.Reason).
			Msg("Candidate rejected")
		return
	}

	learning := e.buildLearning(profile, candidate, scored, vector, now)

	if match, sim := c.dedup.Match(learning, profile.Learnings); match != nil {
		c.dedup.Merge(match, learning, now)
		result.Merged++
		log.Debug().
			Str("learning_id", match.ID).
			Float64("similarity", sim).
			Msg("Candidate merged")
		return
	}

	profile.Learnings = append(profile.Learnings, learning)
	if learning.ReviewOnly {
		result.Review++
	} else {
		result.Accepted++
	}
}

func (e *Engine) buildLearning(profile *models.CategoryProfile, candidate *models.CandidateLearning, scored quality.Result, vector []float32, now time.Time) *models.Learning {
	confidence := initialConfidenceAccept
	reviewOnly := false
	if scored.Decision == quality.DecisionReview {
		confidence = initialConfidenceReview
		reviewOnly = true
	}

	sampleCount := candidate.SupportingExamples
	if sampleCount < 1 {
		sampleCount = 1
	}

	return &models.Learning{
		ID:                    models.NewLearningID(),
		BusinessID:            profile.BusinessID,
		Category:              profile.Category,
		Kind:                  candidate.Kind,
		Target:                models.NormalizeTarget(candidate.Target),
		Adjustment:            candidate.Adjustment,
		RuleText:              candidate.RuleText,
		AppliesWhen:           candidate.AppliesWhen,
		Reason:                candidate.Reason,
		Quality:               scored.Scores(),
		Confidence:            confidence,
		SampleCount:           sampleCount,
		TotalImpact:           candidate.ImpactDollars,
		Source:                models.SourceCorrection,
		ReviewOnly:            reviewOnly,
		Embedding:             vector,
		CreatedAtEpoch:        now.UnixMilli(),
		LastReinforcedAtEpoch: now.UnixMilli(),
		Version:               1,
	}
}

// RecordOutcome processes one quote outcome. sent_with_edit routes the
// attached correction through the correction pipeline after the send is
// counted.
func (e *Engine) RecordOutcome(ctx context.Context, event *models.OutcomeEvent) error {
	if event == nil || event.BusinessID == "" || event.Category == "" {
		return fmt.Errorf("%w: business_id and category are required", ErrInvalidEvent)
	}
	if !event.Type.Valid() {
		return fmt.Errorf("%w: unknown outcome type %q", ErrInvalidEvent, event.Type)
	}
	telemetry.Add(ctx, metricsCounter(e.metrics).OutcomesReceived, event.BusinessID)

	// Each attempt gets its own event deadline; see processCorrection.
	apply := func() error {
		actx, cancel := context.WithTimeout(ctx, e.eventTimeout)
		defer cancel()

		c := e.components()
		now := e.now()
		_, err := e.store.Apply(actx, event.BusinessID, event.Category, func(profile *models.CategoryProfile) error {
			switch event.Type {
			case models.OutcomeWonUnedited:
				c.learner.HandleWon(profile, event, now)
			case models.OutcomeLostUnedited:
				c.learner.HandleLost(profile, event, now)
			case models.OutcomeEdited:
				profile.Acceptance.TotalSent++
				c.calibrator.Recalculate(profile, now)
			}
			return nil
		})
		return err
	}

	err := apply()
	if err != nil && requeueable(err) {
		log.Warn().Err(err).Str("business_id", event.BusinessID).Msg("Outcome attempt failed, requeueing once")
		err = apply()
	}
	if err != nil {
		e.deadLetter(event.BusinessID, event.Category, "outcome", event, err)
		return err
	}

	if event.Type == models.OutcomeEdited && event.Correction != nil {
		if _, err := e.RecordCorrection(ctx, event.Correction); err != nil {
			return fmt.Errorf("route edited outcome to correction pipeline: %w", err)
		}
	}
	return nil
}

// GetInjectionContext returns the ranked, bounded learning context for quote
// generation. A never-seen category yields an empty cold-start context whose
// confidence honors the cold-start cap.
func (e *Engine) GetInjectionContext(ctx context.Context, businessID, category, jobDescription string) (*models.InjectionContext, error) {
	profile, err := e.store.Get(ctx, businessID, category)
	if err != nil {
		if !errors.Is(err, store.ErrProfileNotFound) {
			return nil, err
		}
		profile = models.NewCategoryProfile(businessID, category, e.now().UnixMilli())
	}

	var jobVector []float32
	if jobDescription != "" {
		jobVector = e.embedder.Embed(ctx, jobDescription)
	}

	injection := e.components().selector.Select(profile, jobVector)
	telemetry.Add(ctx, metricsCounter(e.metrics).InjectionsServed, businessID)
	return injection, nil
}

// GetProfile returns the stored profile for inspection endpoints.
func (e *Engine) GetProfile(ctx context.Context, businessID, category string) (*models.CategoryProfile, error) {
	return e.store.Get(ctx, businessID, category)
}

// ListDeadLetters exposes the escalation queue for manual review.
func (e *Engine) ListDeadLetters(ctx context.Context, businessID string, limit int) ([]*models.DeadLetter, error) {
	return e.store.ListDeadLetters(ctx, businessID, limit)
}

// RunDNATransfer runs the cross-category analysis for one business.
func (e *Engine) RunDNATransfer(ctx context.Context, businessID string) (*models.ContractorDNA, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: business_id is required", ErrInvalidEvent)
	}
	result, err := e.components().dnaEngine.Run(ctx, businessID)
	if err != nil {
		return nil, err
	}
	telemetry.Add(ctx, metricsCounter(e.metrics).DNARuns, businessID)
	return result, nil
}

// deadLetter escalates an event that exhausted its retries. Serialization
// failures cannot happen for our own event types; the payload falls back to
// the error text to keep the record.
func (e *Engine) deadLetter(businessID, category, kind string, event interface{}, cause error) {
	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", event))
	}
	letter := &models.DeadLetter{
		BusinessID: businessID,
		Category:   category,
		Kind:       kind,
		Payload:    string(payload),
		Reason:     cause.Error(),
		AtEpoch:    e.now().UnixMilli(),
	}

	// Best effort with a fresh context: the event context is likely expired.
	dlCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.AddDeadLetter(dlCtx, letter); err != nil {
		log.Error().Err(err).
			Str("business_id", businessID).
			Str("kind", kind).
			Msg("Dead-letter write failed, event dropped")
		return
	}
	telemetry.Add(dlCtx, metricsCounter(e.metrics).DeadLetters, businessID)
	log.Warn().
		Str("business_id", businessID).
		Str("category", category).
		Str("kind", kind).
		AnErr("cause", cause).
		Msg("Event dead-lettered")
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

var noopMetrics = &telemetry.Metrics{}

// metricsCounter makes counter access nil-safe for library embedders that
// skip telemetry.
func metricsCounter(m *telemetry.Metrics) *telemetry.Metrics {
	if m == nil {
		return noopMetrics
	}
	return m
}
