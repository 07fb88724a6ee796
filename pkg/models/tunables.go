// Package models contains domain models for pricelearn.
package models

// The numeric thresholds below are tunable configuration, not hard invariants.
// Defaults follow the shipped calibration; operators override them via
// tunables.yaml.

// QualityConfig contains the rubric weights and decision thresholds for the
// quality scorer.
type QualityConfig struct {
	// SpecificityMax caps the specificity sub-score.
	SpecificityMax float64 `json:"specificity_max" yaml:"specificity_max"`
	// ActionabilityMax caps the actionability sub-score.
	ActionabilityMax float64 `json:"actionability_max" yaml:"actionability_max"`
	// ClarityMax caps the clarity sub-score.
	ClarityMax float64 `json:"clarity_max" yaml:"clarity_max"`
	// AntiPatternMax caps the subtracted anti-pattern penalty.
	AntiPatternMax float64 `json:"anti_pattern_max" yaml:"anti_pattern_max"`

	// RejectBelow discards a candidate outright.
	RejectBelow float64 `json:"reject_below" yaml:"reject_below"`
	// ReviewBelow stores with the low-confidence flag, excluded from injection.
	ReviewBelow float64 `json:"review_below" yaml:"review_below"`
	// RefineBelow stores but allows bounded re-extraction retries.
	RefineBelow float64 `json:"refine_below" yaml:"refine_below"`
	// MaxRefineRetries bounds re-extraction attempts before falling back to review.
	MaxRefineRetries int `json:"max_refine_retries" yaml:"max_refine_retries"`

	// ContradictionMinConfidence is the existing-learning confidence above which
	// a contradicting candidate is penalized.
	ContradictionMinConfidence float64 `json:"contradiction_min_confidence" yaml:"contradiction_min_confidence"`

	// VagueTargets are target names treated as non-specific noise.
	VagueTargets []string `json:"vague_targets" yaml:"vague_targets"`
}

// DefaultQualityConfig returns the default quality scoring configuration.
func DefaultQualityConfig() *QualityConfig {
	return &QualityConfig{
		SpecificityMax:             35,
		ActionabilityMax:           25,
		ClarityMax:                 20,
		AntiPatternMax:             25,
		RejectBelow:                40,
		ReviewBelow:                60,
		RefineBelow:                70,
		MaxRefineRetries:           2,
		ContradictionMinConfidence: 0.6,
		VagueTargets: []string{
			"stuff", "things", "materials in general", "general", "misc",
			"miscellaneous", "everything", "all items", "other",
		},
	}
}

// CalibrationConfig contains the confidence dimension weights and bounds.
type CalibrationConfig struct {
	// DataSaturationN is the sample count at which the data dimension reaches 1.0.
	DataSaturationN int `json:"data_saturation_n" yaml:"data_saturation_n"`
	// RecencyHalfLifeDays halves the recency dimension per elapsed period.
	RecencyHalfLifeDays float64 `json:"recency_half_life_days" yaml:"recency_half_life_days"`
	// RecencyFloor keeps old categories from decaying to zero.
	RecencyFloor float64 `json:"recency_floor" yaml:"recency_floor"`
	// DefaultAccuracy is used until at least one correction exists.
	DefaultAccuracy float64 `json:"default_accuracy" yaml:"default_accuracy"`

	WeightData     float64 `json:"weight_data" yaml:"weight_data"`
	WeightAccuracy float64 `json:"weight_accuracy" yaml:"weight_accuracy"`
	WeightRecency  float64 `json:"weight_recency" yaml:"weight_recency"`
	WeightCoverage float64 `json:"weight_coverage" yaml:"weight_coverage"`

	// CeilingMargin bounds confidence at observed acceptance rate plus margin.
	CeilingMargin float64 `json:"ceiling_margin" yaml:"ceiling_margin"`
	// MinSentForCeiling is the sent-quote count that arms the calibration ceiling.
	MinSentForCeiling int `json:"min_sent_for_ceiling" yaml:"min_sent_for_ceiling"`
	// ColdStartCap bounds confidence while a category has zero samples.
	ColdStartCap float64 `json:"cold_start_cap" yaml:"cold_start_cap"`

	// ContradictionWindowDays is the window for detecting opposing corrections
	// on the same target.
	ContradictionWindowDays float64 `json:"contradiction_window_days" yaml:"contradiction_window_days"`
	// ContradictionPenalty is the multiplicative accuracy reduction on detection.
	ContradictionPenalty float64 `json:"contradiction_penalty" yaml:"contradiction_penalty"`
}

// DefaultCalibrationConfig returns the default calibration configuration.
func DefaultCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{
		DataSaturationN:         20,
		RecencyHalfLifeDays:     30,
		RecencyFloor:            0.3,
		DefaultAccuracy:         0.5,
		WeightData:              0.20,
		WeightAccuracy:          0.40,
		WeightRecency:           0.25,
		WeightCoverage:          0.15,
		CeilingMargin:           0.15,
		MinSentForCeiling:       10,
		ColdStartCap:            0.3,
		ContradictionWindowDays: 14,
		ContradictionPenalty:    0.5,
	}
}

// DedupConfig contains similarity thresholds for the deduplicator.
type DedupConfig struct {
	// SimilarityThreshold is the cosine similarity above which two learnings
	// with the same target are the same underlying pattern.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	// TermFallbackThreshold is the term-overlap threshold used when embeddings
	// are unavailable.
	TermFallbackThreshold float64 `json:"term_fallback_threshold" yaml:"term_fallback_threshold"`
}

// DefaultDedupConfig returns the default deduplication configuration.
func DefaultDedupConfig() *DedupConfig {
	return &DedupConfig{
		SimilarityThreshold:   0.90,
		TermFallbackThreshold: 0.65,
	}
}

// LearningRateStep is one row of the dynamic learning-rate table.
type LearningRateStep struct {
	// BelowSamples applies this step while sample_count is under the bound.
	// Zero means the terminal step.
	BelowSamples int     `json:"below_samples" yaml:"below_samples"`
	Weight       float64 `json:"weight" yaml:"weight"`
}

// LearningRateTable is the sample-count-dependent weight given to incoming
// evidence when merging into an existing learning. Aggressive convergence
// while evidence is thin, stability once established.
type LearningRateTable []LearningRateStep

// DefaultLearningRateTable returns the default dynamic learning-rate table.
func DefaultLearningRateTable() LearningRateTable {
	return LearningRateTable{
		{BelowSamples: 5, Weight: 0.60},
		{BelowSamples: 15, Weight: 0.30},
		{BelowSamples: 0, Weight: 0.15},
	}
}

// WeightFor returns the incoming-evidence weight for a learning with the given
// sample count.
func (t LearningRateTable) WeightFor(sampleCount int) float64 {
	for _, step := range t {
		if step.BelowSamples == 0 || sampleCount < step.BelowSamples {
			return step.Weight
		}
	}
	return 0.15
}

// StoreConfig contains learning store bounds.
type StoreConfig struct {
	// MaxLearningsPerCategory bounds a profile; the lowest-priority learning is
	// evicted on overflow, never the oldest by insertion order.
	MaxLearningsPerCategory int `json:"max_learnings_per_category" yaml:"max_learnings_per_category"`
	// MaxApplyRetries bounds optimistic-concurrency retries before failing loud.
	MaxApplyRetries int `json:"max_apply_retries" yaml:"max_apply_retries"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		MaxLearningsPerCategory: 20,
		MaxApplyRetries:         5,
	}
}

// SelectorConfig contains relevance selection parameters.
type SelectorConfig struct {
	// MaxLearnings is the injection count budget (top-K).
	MaxLearnings int `json:"max_learnings" yaml:"max_learnings"`
	// ImpactCap is the dollar magnitude at which impact saturates.
	ImpactCap float64 `json:"impact_cap" yaml:"impact_cap"`
	// RecencyHalfLifeDays and RecencyFloor mirror the calibration decay.
	RecencyHalfLifeDays float64 `json:"recency_half_life_days" yaml:"recency_half_life_days"`
	RecencyFloor        float64 `json:"recency_floor" yaml:"recency_floor"`
	// TokenBudget bounds the formatted injection payload.
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
}

// DefaultSelectorConfig returns the default selector configuration.
func DefaultSelectorConfig() *SelectorConfig {
	return &SelectorConfig{
		MaxLearnings:        7,
		ImpactCap:           1000,
		RecencyHalfLifeDays: 30,
		RecencyFloor:        0.3,
		TokenBudget:         600,
	}
}

// DNAConfig contains cross-category transfer parameters.
type DNAConfig struct {
	// UniversalThreshold is the category share above which a pattern is universal.
	UniversalThreshold float64 `json:"universal_threshold" yaml:"universal_threshold"`
	// PartialMin is the lower bound of the partial band.
	PartialMin float64 `json:"partial_min" yaml:"partial_min"`
	// MagnitudeTolerance is the relative adjustment spread still counted as
	// the same pattern.
	MagnitudeTolerance float64 `json:"magnitude_tolerance" yaml:"magnitude_tolerance"`
	// MinCategories is the minimum analyzed before any transfer is attempted.
	MinCategories int `json:"min_categories" yaml:"min_categories"`
	// BootstrapSampleThreshold marks a category as sparse enough to bootstrap.
	BootstrapSampleThreshold int `json:"bootstrap_sample_threshold" yaml:"bootstrap_sample_threshold"`
	// UniversalConfidenceFactor scales source confidence for universal transfers.
	UniversalConfidenceFactor float64 `json:"universal_confidence_factor" yaml:"universal_confidence_factor"`
	// PartialConfidenceFactor scales source confidence for partial transfers.
	PartialConfidenceFactor float64 `json:"partial_confidence_factor" yaml:"partial_confidence_factor"`
}

// DefaultDNAConfig returns the default DNA transfer configuration.
func DefaultDNAConfig() *DNAConfig {
	return &DNAConfig{
		UniversalThreshold:        0.60,
		PartialMin:                0.40,
		MagnitudeTolerance:        0.20,
		MinCategories:             3,
		BootstrapSampleThreshold:  3,
		UniversalConfidenceFactor: 0.60,
		PartialConfidenceFactor:   0.40,
	}
}

// OutcomeConfig contains acceptance learner parameters.
type OutcomeConfig struct {
	// WonBoost is added to overall confidence on a won outcome; acceptance is a
	// stronger signal than a correction.
	WonBoost float64 `json:"won_boost" yaml:"won_boost"`
	// CorrectionBoost is added per accepted correction.
	CorrectionBoost float64 `json:"correction_boost" yaml:"correction_boost"`
	// LossImplicationShare marks a learning for decay when it appears in this
	// share of a category's recent lost quotes.
	LossImplicationShare float64 `json:"loss_implication_share" yaml:"loss_implication_share"`
	// MinLossesForDecay is the minimum loss window size before decay triggers.
	MinLossesForDecay int `json:"min_losses_for_decay" yaml:"min_losses_for_decay"`
	// DecayFactor is the confidence multiplier for implicated learnings.
	DecayFactor float64 `json:"decay_factor" yaml:"decay_factor"`
}

// DefaultOutcomeConfig returns the default acceptance learner configuration.
func DefaultOutcomeConfig() *OutcomeConfig {
	return &OutcomeConfig{
		WonBoost:             0.05,
		CorrectionBoost:      0.02,
		LossImplicationShare: 0.70,
		MinLossesForDecay:    3,
		DecayFactor:          0.5,
	}
}

// Tunables aggregates every tunable parameter set, loaded from tunables.yaml
// and merged over defaults.
type Tunables struct {
	Quality     *QualityConfig     `json:"quality" yaml:"quality"`
	Calibration *CalibrationConfig `json:"calibration" yaml:"calibration"`
	Dedup       *DedupConfig       `json:"dedup" yaml:"dedup"`
	LearningRate LearningRateTable `json:"learning_rate" yaml:"learning_rate"`
	Store       *StoreConfig       `json:"store" yaml:"store"`
	Selector    *SelectorConfig    `json:"selector" yaml:"selector"`
	DNA         *DNAConfig         `json:"dna" yaml:"dna"`
	Outcome     *OutcomeConfig     `json:"outcome" yaml:"outcome"`
}

// DefaultTunables returns the full default tunable set.
func DefaultTunables() *Tunables {
	return &Tunables{
		Quality:      DefaultQualityConfig(),
		Calibration:  DefaultCalibrationConfig(),
		Dedup:        DefaultDedupConfig(),
		LearningRate: DefaultLearningRateTable(),
		Store:        DefaultStoreConfig(),
		Selector:     DefaultSelectorConfig(),
		DNA:          DefaultDNAConfig(),
		Outcome:      DefaultOutcomeConfig(),
	}
}
