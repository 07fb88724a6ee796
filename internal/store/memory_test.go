package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/quotely/pricelearn/internal/scoring"
	"github.com/quotely/pricelearn/pkg/models"
)

// MemoryStoreSuite is a test suite for the in-memory profile store.
type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	now   time.Time
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore(models.DefaultStoreConfig(), scoring.DefaultConfig())
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.store.SetNowFunc(func() time.Time { return s.now })
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) TestGet_UnknownProfile() {
	_, err := s.store.Get(s.ctx, "biz-1", "deck staining")

	s.ErrorIs(err, ErrProfileNotFound)
}

func (s *MemoryStoreSuite) TestApply_CreatesProfileLazily() {
	applied, err := s.store.Apply(s.ctx, "biz-1", "Deck Staining", func(p *models.CategoryProfile) error {
		p.Acceptance.TotalSent = 1
		return nil
	})
	s.Require().NoError(err)
	s.Equal(int64(1), applied.ProfileVersion)

	got, err := s.store.Get(s.ctx, "biz-1", "deck staining")
	s.Require().NoError(err)
	s.Equal(1, got.Acceptance.TotalSent)
	s.Equal("deck staining", got.Category)
	s.Equal(s.now.UnixMilli(), got.UpdatedAtEpoch)
}

func (s *MemoryStoreSuite) TestApply_MutateErrorCommitsNothing() {
	boom := fmt.Errorf("bad event")

	_, err := s.store.Apply(s.ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error {
		p.Acceptance.TotalSent = 99
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Get(s.ctx, "biz-1", "deck staining")
	s.ErrorIs(err, ErrProfileNotFound)
}

func (s *MemoryStoreSuite) TestGet_ReturnsClone() {
	_, err := s.store.Apply(s.ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error {
		p.Learnings = append(p.Learnings, &models.Learning{ID: "l-1", Target: "labor", Adjustment: 1.15, Confidence: 0.5})
		return nil
	})
	s.Require().NoError(err)

	first, err := s.store.Get(s.ctx, "biz-1", "deck staining")
	s.Require().NoError(err)
	first.Learnings[0].Adjustment = 9.99
	first.Acceptance.TotalSent = 42

	second, err := s.store.Get(s.ctx, "biz-1", "deck staining")
	s.Require().NoError(err)
	s.Equal(1.15, second.Learnings[0].Adjustment)
	s.Equal(0, second.Acceptance.TotalSent)
}

func (s *MemoryStoreSuite) TestApply_CanceledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.store.Apply(ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error {
		return nil
	})
	s.ErrorIs(err, context.Canceled)
}

func (s *MemoryStoreSuite) TestListCategoriesAndSnapshot() {
	for _, cat := range []string{"fence painting", "deck staining", "pressure washing"} {
		_, err := s.store.Apply(s.ctx, "biz-1", cat, func(p *models.CategoryProfile) error { return nil })
		s.Require().NoError(err)
	}
	_, err := s.store.Apply(s.ctx, "biz-2", "roofing", func(p *models.CategoryProfile) error { return nil })
	s.Require().NoError(err)

	categories, err := s.store.ListCategories(s.ctx, "biz-1")
	s.Require().NoError(err)
	s.Equal([]string{"deck staining", "fence painting", "pressure washing"}, categories)

	profiles, err := s.store.Snapshot(s.ctx, "biz-1")
	s.Require().NoError(err)
	s.Len(profiles, 3)
	s.Equal("deck staining", profiles[0].Category)
}

// Every writer commits exactly once under contention: the retry budget exceeds
// the writer count, so no update may be lost.
func (s *MemoryStoreSuite) TestApply_ConcurrentWritersLoseNothing() {
	const writers = 8
	store := NewMemoryStore(&models.StoreConfig{
		MaxLearningsPerCategory: writers + 5,
		MaxApplyRetries:         writers + 1,
	}, scoring.DefaultConfig())
	store.SetNowFunc(func() time.Time { return s.now })

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Apply(s.ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error {
				p.Learnings = append(p.Learnings, &models.Learning{
					ID:         fmt.Sprintf("l-%d", i),
					Target:     fmt.Sprintf("target %d", i),
					Adjustment: 1.10,
					Confidence: 0.5,
				})
				p.Acceptance.TotalSent++
				return nil
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		s.NoError(err, "writer %d", i)
	}

	profile, err := store.Get(s.ctx, "biz-1", "deck staining")
	s.Require().NoError(err)
	s.Len(profile.Learnings, writers)
	s.Equal(writers, profile.Acceptance.TotalSent)
	s.Equal(int64(writers), profile.ProfileVersion)
}

func (s *MemoryStoreSuite) TestApply_RetriesExhaustedFailLoud() {
	store := NewMemoryStore(&models.StoreConfig{
		MaxLearningsPerCategory: 20,
		MaxApplyRetries:         2,
	}, scoring.DefaultConfig())
	store.SetNowFunc(func() time.Time { return s.now })

	_, err := store.Apply(s.ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error { return nil })
	s.Require().NoError(err)

	// Every attempt loses the race: the mutator bumps the stored version
	// behind the apply loop's back.
	_, err = store.Apply(s.ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error {
		_, inner := store.Apply(s.ctx, "biz-1", "deck staining", func(q *models.CategoryProfile) error { return nil })
		return inner
	})
	s.ErrorIs(err, ErrStoreUnavailable)
	s.ErrorIs(err, ErrVersionConflict)
}

// The bound evicts the minimum impact x confidence x recency score, not the
// oldest insertion.
func (s *MemoryStoreSuite) TestApply_EvictsLowestPriorityOnOverflow() {
	const max = 5
	store := NewMemoryStore(&models.StoreConfig{
		MaxLearningsPerCategory: max,
		MaxApplyRetries:         5,
	}, scoring.DefaultConfig())
	store.SetNowFunc(func() time.Time { return s.now })

	_, err := store.Apply(s.ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error {
		for i := 0; i < max+1; i++ {
			p.Learnings = append(p.Learnings, &models.Learning{
				ID:                    fmt.Sprintf("l-%d", i),
				Target:                fmt.Sprintf("target %d", i),
				Adjustment:            1.10,
				Confidence:            0.9,
				TotalImpact:           float64(100 * (i + 1)),
				LastReinforcedAtEpoch: s.now.UnixMilli(),
			})
		}
		// Oldest-inserted learning, but by far the highest value.
		p.Learnings[0].TotalImpact = 5000
		return nil
	})
	s.Require().NoError(err)

	profile, err := store.Get(s.ctx, "biz-1", "deck staining")
	s.Require().NoError(err)
	s.Len(profile.Learnings, max)

	ids := make(map[string]bool, len(profile.Learnings))
	for _, l := range profile.Learnings {
		ids[l.ID] = true
	}
	s.True(ids["l-0"], "highest-impact learning must survive despite age")
	s.False(ids["l-1"], "lowest eviction score goes first")
}

func (s *MemoryStoreSuite) TestDeadLetters_NewestFirstWithLimit() {
	for i := 0; i < 4; i++ {
		err := s.store.AddDeadLetter(s.ctx, &models.DeadLetter{
			BusinessID: "biz-1",
			Category:   "deck staining",
			Reason:     fmt.Sprintf("failure %d", i),
			AtEpoch:    s.now.Add(time.Duration(i) * time.Minute).UnixMilli(),
		})
		s.Require().NoError(err)
	}
	err := s.store.AddDeadLetter(s.ctx, &models.DeadLetter{BusinessID: "biz-2", Reason: "other business"})
	s.Require().NoError(err)

	letters, err := s.store.ListDeadLetters(s.ctx, "biz-1", 2)
	s.Require().NoError(err)
	s.Len(letters, 2)
	s.Equal("failure 3", letters[0].Reason)
	s.Equal("failure 2", letters[1].Reason)
}

func (s *MemoryStoreSuite) TestApply_VersionConflictsCounted() {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	// A nested Apply bumps the version mid-flight, so the outer commit loses
	// exactly once before succeeding on the retry.
	first := true
	_, err := s.store.Apply(s.ctx, "biz-1", "deck staining", func(p *models.CategoryProfile) error {
		if first {
			first = false
			_, nested := s.store.Apply(s.ctx, "biz-1", "deck staining", func(q *models.CategoryProfile) error {
				q.Acceptance.TotalSent++
				return nil
			})
			return nested
		}
		return nil
	})
	s.Require().NoError(err)

	var rm metricdata.ResourceMetrics
	s.Require().NoError(reader.Collect(s.ctx, &rm))

	var conflicts int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "pricelearn.store.version_conflicts" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					conflicts += dp.Value
				}
			}
		}
	}
	s.Equal(int64(1), conflicts, "every lost commit is visible to operators")
}
