// Package store defines the concurrency-safe, versioned learning store.
//
// The category profile is the only mutable shared resource in the engine and
// the store is its sole writer. Writers never mutate a live profile: Apply
// hands the mutator a deep copy and commits it back only if the profile
// version is unchanged, retrying the whole pipeline on conflict.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/quotely/pricelearn/internal/scoring"
	"github.com/quotely/pricelearn/pkg/models"
)

var (
	// ErrProfileNotFound is returned by reads of never-seen categories.
	ErrProfileNotFound = errors.New("category profile not found")
	// ErrVersionConflict signals an optimistic-concurrency commit failure.
	ErrVersionConflict = errors.New("profile version conflict")
	// ErrStoreUnavailable is the fatal escalation after retries exhaust. A
	// correction is failed loud rather than silently dropped.
	ErrStoreUnavailable = errors.New("learning store unavailable")
)

// MutateFunc transforms a profile copy. Returning an error aborts the apply
// without committing anything.
type MutateFunc func(profile *models.CategoryProfile) error

// ProfileReader provides read-only snapshots of profiles.
type ProfileReader interface {
	// Get returns a snapshot of the profile, or ErrProfileNotFound.
	Get(ctx context.Context, businessID, category string) (*models.CategoryProfile, error)
	// ListCategories returns all category keys known for a business.
	ListCategories(ctx context.Context, businessID string) ([]string, error)
	// Snapshot returns copies of all profiles for a business. The snapshot is
	// consistent per profile, not across profiles; DNA reads tolerate that.
	Snapshot(ctx context.Context, businessID string) ([]*models.CategoryProfile, error)
}

// ProfileWriter owns all profile mutations.
type ProfileWriter interface {
	// Apply atomically mutates the profile for (businessID, category),
	// creating it lazily on first touch. The mutation is retried internally
	// on version conflicts; exhausted retries surface ErrStoreUnavailable.
	// No partial state is ever committed.
	Apply(ctx context.Context, businessID, category string, mutate MutateFunc) (*models.CategoryProfile, error)
}

// DeadLetterSink records events that exhausted their retries for manual review.
type DeadLetterSink interface {
	AddDeadLetter(ctx context.Context, letter *models.DeadLetter) error
	ListDeadLetters(ctx context.Context, businessID string, limit int) ([]*models.DeadLetter, error)
}

// ProfileStore combines reads, writes and the dead-letter sink.
type ProfileStore interface {
	ProfileReader
	ProfileWriter
	DeadLetterSink
}

// EnforceBound evicts learnings until the profile fits the per-category bound,
// removing the minimum eviction score (impact x confidence x recency) first.
// Called by every backend inside the commit, after the mutation ran.
func EnforceBound(profile *models.CategoryProfile, maxLearnings int, priority scoring.Config, now time.Time) []*models.Learning {
	if maxLearnings <= 0 {
		return nil
	}

	var evicted []*models.Learning
	for len(profile.Learnings) > maxLearnings {
		minIdx := 0
		minScore := priority.EvictionScore(profile.Learnings[0], now)
		for i := 1; i < len(profile.Learnings); i++ {
			if score := priority.EvictionScore(profile.Learnings[i], now); score < minScore {
				minScore = score
				minIdx = i
			}
		}
		evicted = append(evicted, profile.Learnings[minIdx])
		profile.Learnings = append(profile.Learnings[:minIdx], profile.Learnings[minIdx+1:]...)
	}
	return evicted
}
