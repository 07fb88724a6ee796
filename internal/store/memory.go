package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quotely/pricelearn/internal/scoring"
	"github.com/quotely/pricelearn/internal/telemetry"
	"github.com/quotely/pricelearn/pkg/models"
)

// MemoryStore is the in-process reference backend. It implements the same
// optimistic-concurrency contract as the durable backends so the retry
// pipeline behaves identically everywhere.
type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]*models.CategoryProfile
	deadLetters []*models.DeadLetter
	nextLetter  int64

	config   *models.StoreConfig
	priority scoring.Config
	now      func() time.Time
}

var _ ProfileStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory profile store.
// If config is nil, uses the default configuration.
func NewMemoryStore(config *models.StoreConfig, priority scoring.Config) *MemoryStore {
	if config == nil {
		config = models.DefaultStoreConfig()
	}
	return &MemoryStore{
		profiles: make(map[string]*models.CategoryProfile),
		config:   config,
		priority: priority,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.now = now
}

func profileKey(businessID, category string) string {
	return businessID + "\x00" + models.NormalizeCategory(category)
}

// Get returns a snapshot copy of the profile.
func (s *MemoryStore) Get(ctx context.Context, businessID, category string) (*models.CategoryProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[profileKey(businessID, category)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", businessID, category, ErrProfileNotFound)
	}
	return profile.Clone(), nil
}

// ListCategories returns the category keys known for a business.
func (s *MemoryStore) ListCategories(ctx context.Context, businessID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var categories []string
	for _, p := range s.profiles {
		if p.BusinessID == businessID {
			categories = append(categories, p.Category)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

// Snapshot returns copies of all profiles for a business.
func (s *MemoryStore) Snapshot(ctx context.Context, businessID string) ([]*models.CategoryProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var profiles []*models.CategoryProfile
	for _, p := range s.profiles {
		if p.BusinessID == businessID {
			profiles = append(profiles, p.Clone())
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Category < profiles[j].Category })
	return profiles, nil
}

// Apply runs the read-copy-mutate-commit loop with bounded retries.
func (s *MemoryStore) Apply(ctx context.Context, businessID, category string, mutate MutateFunc) (*models.CategoryProfile, error) {
	var lastErr error

	for attempt := 0; attempt < s.config.MaxApplyRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		base, version := s.read(businessID, category)
		working := base.Clone()

		if err := mutate(working); err != nil {
			return nil, err
		}

		now := s.now()
		working.ProfileVersion = version + 1
		working.UpdatedAtEpoch = now.UnixMilli()
		if evicted := EnforceBound(working, s.config.MaxLearningsPerCategory, s.priority, now); len(evicted) > 0 {
			for _, l := range evicted {
				log.Info().
					Str("business_id", businessID).
					Str("category", working.Category).
					Str("learning_id", l.ID).
					Int("sample_count", l.SampleCount).
					Msg("Evicted lowest-priority learning")
			}
		}

		if s.commit(businessID, category, version, working) {
			return working.Clone(), nil
		}
		lastErr = ErrVersionConflict
		telemetry.VersionConflict(ctx, businessID)
	}

	return nil, fmt.Errorf("apply %s/%s after %d attempts: %w: %w",
		businessID, category, s.config.MaxApplyRetries, ErrStoreUnavailable, lastErr)
}

// read returns the current profile copy and its version, creating the profile
// lazily (version 0 means not yet committed).
func (s *MemoryStore) read(businessID, category string) (*models.CategoryProfile, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[profileKey(businessID, category)]; ok {
		return p.Clone(), p.ProfileVersion
	}
	return models.NewCategoryProfile(businessID, category, s.now().UnixMilli()), 0
}

// commit installs the working copy iff the stored version is unchanged.
func (s *MemoryStore) commit(businessID, category string, expectedVersion int64, working *models.CategoryProfile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey(businessID, category)
	current, exists := s.profiles[key]

	if exists && current.ProfileVersion != expectedVersion {
		return false
	}
	if !exists && expectedVersion != 0 {
		return false
	}

	s.profiles[key] = working.Clone()
	return true
}

// AddDeadLetter records an event that exhausted its retries.
func (s *MemoryStore) AddDeadLetter(ctx context.Context, letter *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLetter++
	letter.ID = s.nextLetter
	if letter.AtEpoch == 0 {
		letter.AtEpoch = s.now().UnixMilli()
	}
	s.deadLetters = append(s.deadLetters, letter)
	return nil
}

// ListDeadLetters returns dead letters for a business, newest first.
func (s *MemoryStore) ListDeadLetters(ctx context.Context, businessID string, limit int) ([]*models.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var letters []*models.DeadLetter
	for i := len(s.deadLetters) - 1; i >= 0; i-- {
		if s.deadLetters[i].BusinessID != businessID {
			continue
		}
		copied := *s.deadLetters[i]
		letters = append(letters, &copied)
		if limit > 0 && len(letters) >= limit {
			break
		}
	}
	return letters, nil
}
