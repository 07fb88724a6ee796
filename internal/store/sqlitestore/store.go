// Package sqlitestore provides the embedded SQLite backend for the learning
// store, used in single-process local deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/quotely/pricelearn/internal/scoring"
	"github.com/quotely/pricelearn/internal/store"
	"github.com/quotely/pricelearn/internal/telemetry"
	"github.com/quotely/pricelearn/pkg/models"
)

// Store implements store.ProfileStore on an embedded SQLite database.
type Store struct {
	db       *sql.DB
	config   *models.StoreConfig
	priority scoring.Config
	now      func() time.Time
}

var _ store.ProfileStore = (*Store)(nil)

// Config holds configuration for the SQLite backend.
type Config struct {
	Path     string
	MaxConns int
	Store    *models.StoreConfig
	Priority scoring.Config
}

// NewStore opens (and migrates) the SQLite database at cfg.Path.
func NewStore(cfg Config) (*Store, error) {
	connStr := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0) // SQLite connections are cheap

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	storeCfg := cfg.Store
	if storeCfg == nil {
		storeCfg = models.DefaultStoreConfig()
	}

	return &Store{
		db:       db,
		config:   storeCfg,
		priority: cfg.Priority,
		now:      time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			business_id TEXT NOT NULL,
			category TEXT NOT NULL,
			profile_version INTEGER NOT NULL,
			overall_confidence REAL NOT NULL DEFAULT 0,
			confidence_boost REAL NOT NULL DEFAULT 0,
			confidence_data REAL NOT NULL DEFAULT 0,
			confidence_accuracy REAL NOT NULL DEFAULT 0,
			confidence_recency REAL NOT NULL DEFAULT 0,
			confidence_coverage REAL NOT NULL DEFAULT 0,
			total_sent INTEGER NOT NULL DEFAULT 0,
			total_accepted INTEGER NOT NULL DEFAULT 0,
			last_acceptance_at_epoch INTEGER NOT NULL DEFAULT 0,
			price_min REAL NOT NULL DEFAULT 0,
			price_max REAL NOT NULL DEFAULT 0,
			review_flag INTEGER NOT NULL DEFAULT 0,
			recent_corrections TEXT,
			recent_losses TEXT,
			created_at_epoch INTEGER NOT NULL,
			updated_at_epoch INTEGER NOT NULL,
			PRIMARY KEY (business_id, category)
		)`,
		`CREATE TABLE IF NOT EXISTS learnings (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			category TEXT NOT NULL,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			adjustment REAL NOT NULL DEFAULT 0,
			rule_text TEXT NOT NULL DEFAULT '',
			applies_when TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			specificity REAL NOT NULL DEFAULT 0,
			actionability REAL NOT NULL DEFAULT 0,
			clarity REAL NOT NULL DEFAULT 0,
			anti_pattern_penalty REAL NOT NULL DEFAULT 0,
			quality_score REAL NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			sample_count INTEGER NOT NULL DEFAULT 1,
			total_impact REAL NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			review_only INTEGER NOT NULL DEFAULT 0,
			decay_flagged INTEGER NOT NULL DEFAULT 0,
			embedding TEXT,
			created_at_epoch INTEGER NOT NULL,
			last_reinforced_at_epoch INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_learnings_profile ON learnings(business_id, category)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			business_id TEXT NOT NULL,
			category TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			reason TEXT NOT NULL,
			at_epoch INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_business ON dead_letters(business_id, at_epoch)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Get returns the profile for (businessID, category), or ErrProfileNotFound.
func (s *Store) Get(ctx context.Context, businessID, category string) (*models.CategoryProfile, error) {
	return s.load(ctx, businessID, models.NormalizeCategory(category))
}

func (s *Store) load(ctx context.Context, businessID, category string) (*models.CategoryProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT profile_version, overall_confidence, confidence_boost,
		       confidence_data, confidence_accuracy, confidence_recency, confidence_coverage,
		       total_sent, total_accepted, last_acceptance_at_epoch,
		       price_min, price_max, review_flag,
		       recent_corrections, recent_losses,
		       created_at_epoch, updated_at_epoch
		FROM profiles WHERE business_id = ? AND category = ?`,
		businessID, category)

	profile := &models.CategoryProfile{BusinessID: businessID, Category: category}
	var reviewFlag int
	var corrections, losses sql.NullString

	err := row.Scan(
		&profile.ProfileVersion, &profile.OverallConfidence, &profile.ConfidenceBoost,
		&profile.Confidence.Data, &profile.Confidence.Accuracy, &profile.Confidence.Recency, &profile.Confidence.Coverage,
		&profile.Acceptance.TotalSent, &profile.Acceptance.TotalAccepted, &profile.Acceptance.LastAcceptanceAtEpoch,
		&profile.PriceRange.Min, &profile.PriceRange.Max, &reviewFlag,
		&corrections, &losses,
		&profile.CreatedAtEpoch, &profile.UpdatedAtEpoch,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", businessID, category, store.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	profile.ReviewFlag = reviewFlag != 0
	if corrections.Valid && corrections.String != "" {
		if err := json.Unmarshal([]byte(corrections.String), &profile.RecentCorrections); err != nil {
			return nil, fmt.Errorf("decode recent corrections: %w", err)
		}
	}
	if losses.Valid && losses.String != "" {
		if err := json.Unmarshal([]byte(losses.String), &profile.RecentLosses); err != nil {
			return nil, fmt.Errorf("decode recent losses: %w", err)
		}
	}

	if profile.Learnings, err = s.loadLearnings(ctx, businessID, category); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Store) loadLearnings(ctx context.Context, businessID, category string) ([]*models.Learning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, target, adjustment, rule_text, applies_when, reason,
		       specificity, actionability, clarity, anti_pattern_penalty, quality_score,
		       confidence, sample_count, total_impact, source, review_only, decay_flagged,
		       embedding, created_at_epoch, last_reinforced_at_epoch, version
		FROM learnings WHERE business_id = ? AND category = ? ORDER BY id`,
		businessID, category)
	if err != nil {
		return nil, fmt.Errorf("load learnings: %w", err)
	}
	defer rows.Close()

	var learnings []*models.Learning
	for rows.Next() {
		l := &models.Learning{BusinessID: businessID, Category: category}
		var reviewOnly, decayFlagged int
		if err := rows.Scan(
			&l.ID, &l.Kind, &l.Target, &l.Adjustment, &l.RuleText, &l.AppliesWhen, &l.Reason,
			&l.Quality.Specificity, &l.Quality.Actionability, &l.Quality.Clarity,
			&l.Quality.AntiPatternPenalty, &l.Quality.QualityScore,
			&l.Confidence, &l.SampleCount, &l.TotalImpact, &l.Source, &reviewOnly, &decayFlagged,
			&l.Embedding, &l.CreatedAtEpoch, &l.LastReinforcedAtEpoch, &l.Version,
		); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		l.ReviewOnly = reviewOnly != 0
		l.DecayFlagged = decayFlagged != 0
		learnings = append(learnings, l)
	}
	return learnings, rows.Err()
}

// ListCategories returns all category keys known for a business.
func (s *Store) ListCategories(ctx context.Context, businessID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category FROM profiles WHERE business_id = ? ORDER BY category`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Snapshot returns all profiles for a business.
func (s *Store) Snapshot(ctx context.Context, businessID string) ([]*models.CategoryProfile, error) {
	categories, err := s.ListCategories(ctx, businessID)
	if err != nil {
		return nil, err
	}

	profiles := make([]*models.CategoryProfile, 0, len(categories))
	for _, c := range categories {
		p, err := s.load(ctx, businessID, c)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Apply runs the optimistic read-mutate-commit loop. The commit is a single
// transaction guarded by `WHERE profile_version = ?`; zero rows affected means
// a concurrent writer won and the whole pipeline retries on a fresh profile.
func (s *Store) Apply(ctx context.Context, businessID, category string, mutate store.MutateFunc) (*models.CategoryProfile, error) {
	category = models.NormalizeCategory(category)
	var lastErr error

	for attempt := 0; attempt < s.config.MaxApplyRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := s.now()
		profile, err := s.load(ctx, businessID, category)
		if err != nil {
			if !isNotFound(err) {
				return nil, err
			}
			profile = models.NewCategoryProfile(businessID, category, now.UnixMilli())
		}
		baseVersion := profile.ProfileVersion

		if err := mutate(profile); err != nil {
			return nil, err
		}

		profile.ProfileVersion = baseVersion + 1
		profile.UpdatedAtEpoch = now.UnixMilli()
		store.EnforceBound(profile, s.config.MaxLearningsPerCategory, s.priority, now)

		committed, err := s.commit(ctx, profile, baseVersion)
		if err != nil {
			return nil, err
		}
		if committed {
			return profile, nil
		}
		lastErr = store.ErrVersionConflict
		telemetry.VersionConflict(ctx, businessID)
		log.Debug().
			Str("business_id", businessID).
			Str("category", category).
			Int("attempt", attempt+1).
			Msg("Profile version conflict, retrying")
	}

	return nil, fmt.Errorf("apply %s/%s after %d attempts: %w: %w",
		businessID, category, s.config.MaxApplyRetries, store.ErrStoreUnavailable, lastErr)
}

func (s *Store) commit(ctx context.Context, profile *models.CategoryProfile, baseVersion int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	corrections, err := json.Marshal(profile.RecentCorrections)
	if err != nil {
		return false, fmt.Errorf("encode recent corrections: %w", err)
	}
	losses, err := json.Marshal(profile.RecentLosses)
	if err != nil {
		return false, fmt.Errorf("encode recent losses: %w", err)
	}

	var matched bool
	if baseVersion == 0 {
		// First commit for this key; a concurrent creator loses on the PK.
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO profiles (
				business_id, category, profile_version, overall_confidence, confidence_boost,
				confidence_data, confidence_accuracy, confidence_recency, confidence_coverage,
				total_sent, total_accepted, last_acceptance_at_epoch,
				price_min, price_max, review_flag, recent_corrections, recent_losses,
				created_at_epoch, updated_at_epoch
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			profile.BusinessID, profile.Category, profile.ProfileVersion,
			profile.OverallConfidence, profile.ConfidenceBoost,
			profile.Confidence.Data, profile.Confidence.Accuracy,
			profile.Confidence.Recency, profile.Confidence.Coverage,
			profile.Acceptance.TotalSent, profile.Acceptance.TotalAccepted, profile.Acceptance.LastAcceptanceAtEpoch,
			profile.PriceRange.Min, profile.PriceRange.Max, boolToInt(profile.ReviewFlag),
			string(corrections), string(losses),
			profile.CreatedAtEpoch, profile.UpdatedAtEpoch)
		if err != nil {
			return false, fmt.Errorf("insert profile: %w", err)
		}
		n, _ := res.RowsAffected()
		matched = n == 1
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE profiles SET
				profile_version = ?, overall_confidence = ?, confidence_boost = ?,
				confidence_data = ?, confidence_accuracy = ?, confidence_recency = ?, confidence_coverage = ?,
				total_sent = ?, total_accepted = ?, last_acceptance_at_epoch = ?,
				price_min = ?, price_max = ?, review_flag = ?,
				recent_corrections = ?, recent_losses = ?, updated_at_epoch = ?
			WHERE business_id = ? AND category = ? AND profile_version = ?`,
			profile.ProfileVersion, profile.OverallConfidence, profile.ConfidenceBoost,
			profile.Confidence.Data, profile.Confidence.Accuracy,
			profile.Confidence.Recency, profile.Confidence.Coverage,
			profile.Acceptance.TotalSent, profile.Acceptance.TotalAccepted, profile.Acceptance.LastAcceptanceAtEpoch,
			profile.PriceRange.Min, profile.PriceRange.Max, boolToInt(profile.ReviewFlag),
			string(corrections), string(losses), profile.UpdatedAtEpoch,
			profile.BusinessID, profile.Category, baseVersion)
		if err != nil {
			return false, fmt.Errorf("update profile: %w", err)
		}
		n, _ := res.RowsAffected()
		matched = n == 1
	}

	if !matched {
		return false, nil
	}

	// Replace the learning set wholesale; the profile row's version gate makes
	// this safe inside the transaction.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM learnings WHERE business_id = ? AND category = ?`,
		profile.BusinessID, profile.Category); err != nil {
		return false, fmt.Errorf("clear learnings: %w", err)
	}

	for _, l := range profile.Learnings {
		embedding, err := l.Embedding.Value()
		if err != nil {
			return false, fmt.Errorf("encode embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO learnings (
				id, business_id, category, kind, target, adjustment, rule_text, applies_when, reason,
				specificity, actionability, clarity, anti_pattern_penalty, quality_score,
				confidence, sample_count, total_impact, source, review_only, decay_flagged,
				embedding, created_at_epoch, last_reinforced_at_epoch, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, profile.BusinessID, profile.Category, l.Kind, l.Target, l.Adjustment,
			l.RuleText, l.AppliesWhen, l.Reason,
			l.Quality.Specificity, l.Quality.Actionability, l.Quality.Clarity,
			l.Quality.AntiPatternPenalty, l.Quality.QualityScore,
			l.Confidence, l.SampleCount, l.TotalImpact, l.Source,
			boolToInt(l.ReviewOnly), boolToInt(l.DecayFlagged),
			embedding, l.CreatedAtEpoch, l.LastReinforcedAtEpoch, l.Version); err != nil {
			return false, fmt.Errorf("insert learning: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit profile: %w", err)
	}
	return true, nil
}

// AddDeadLetter records an event that exhausted its retries.
func (s *Store) AddDeadLetter(ctx context.Context, letter *models.DeadLetter) error {
	if letter.AtEpoch == 0 {
		letter.AtEpoch = s.now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (business_id, category, kind, payload, reason, at_epoch)
		VALUES (?, ?, ?, ?, ?, ?)`,
		letter.BusinessID, letter.Category, letter.Kind, letter.Payload, letter.Reason, letter.AtEpoch)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	letter.ID, _ = res.LastInsertId()
	return nil
}

// ListDeadLetters returns dead letters for a business, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, businessID string, limit int) ([]*models.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, category, kind, payload, reason, at_epoch
		FROM dead_letters WHERE business_id = ? ORDER BY at_epoch DESC LIMIT ?`,
		businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*models.DeadLetter
	for rows.Next() {
		l := &models.DeadLetter{}
		if err := rows.Scan(&l.ID, &l.BusinessID, &l.Category, &l.Kind, &l.Payload, &l.Reason, &l.AtEpoch); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrProfileNotFound)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
