// Package embedding provides vector embeddings for learning statements.
// The provider is optional: when no client is configured, or the provider
// starts failing, callers fall back to term-overlap similarity and the
// pipeline keeps running without vectors.
package embedding

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Embedder produces vectors for texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// cooldown after a provider failure before trying again.
const failureCooldown = 5 * time.Minute

// Service wraps an Embedder with availability tracking and request
// de-duplication. A nil client yields a permanently unavailable service,
// which is a valid degraded configuration.
type Service struct {
	client      Embedder
	group       singleflight.Group
	lastFailure atomic.Int64 // unix millis of last provider error
}

// NewService returns a service over client. client may be nil.
func NewService(client Embedder) *Service {
	return &Service{client: client}
}

// Available reports whether embedding calls are worth attempting.
func (s *Service) Available() bool {
	if s.client == nil {
		return false
	}
	last := s.lastFailure.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.UnixMilli(last)) > failureCooldown
}

// Dimensions returns the provider vector size, or 0 when unavailable.
func (s *Service) Dimensions() int {
	if s.client == nil {
		return 0
	}
	return s.client.Dimensions()
}

// Embed returns the vector for text, or nil when the provider is
// unavailable. Identical concurrent requests share one provider call.
func (s *Service) Embed(ctx context.Context, text string) []float32 {
	if !s.Available() {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(text))
	if key == "" {
		return nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.client.Embed(ctx, text)
	})
	if err != nil {
		s.lastFailure.Store(time.Now().UnixMilli())
		log.Warn().Err(err).Msg("Embedding provider failed, degrading to term similarity")
		return nil
	}
	return v.([]float32)
}

// EmbedBatch returns vectors for texts, or nil when unavailable or failed.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if !s.Available() || len(texts) == 0 {
		return nil
	}
	vecs, err := s.client.EmbedBatch(ctx, texts)
	if err != nil {
		s.lastFailure.Store(time.Now().UnixMilli())
		log.Warn().Err(err).Int("count", len(texts)).
			Msg("Embedding batch failed, degrading to term similarity")
		return nil
	}
	return vecs
}
