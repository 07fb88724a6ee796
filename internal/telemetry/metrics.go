// Package telemetry holds the engine's metric instruments. Instruments are
// registered against the global meter provider; without one installed they
// are no-ops, so library users pay nothing.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/quotely/pricelearn"

// Metrics bundles the engine's counters.
type Metrics struct {
	CorrectionsReceived metric.Int64Counter
	CandidatesAccepted  metric.Int64Counter
	CandidatesRejected  metric.Int64Counter
	CandidatesMerged    metric.Int64Counter
	CandidatesReview    metric.Int64Counter
	OutcomesReceived    metric.Int64Counter
	InjectionsServed    metric.Int64Counter
	DeadLetters         metric.Int64Counter
	DNARuns             metric.Int64Counter
}

// New registers all instruments. Registration errors are impossible with the
// no-op provider and indicate instrument-name collisions otherwise, so the
// first error is returned as-is.
func New() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.CorrectionsReceived, err = meter.Int64Counter("pricelearn.corrections.received",
		metric.WithDescription("Correction events accepted for processing")); err != nil {
		return nil, err
	}
	if m.CandidatesAccepted, err = meter.Int64Counter("pricelearn.candidates.accepted",
		metric.WithDescription("Candidate learnings stored normally")); err != nil {
		return nil, err
	}
	if m.CandidatesRejected, err = meter.Int64Counter("pricelearn.candidates.rejected",
		metric.WithDescription("Candidate learnings rejected by the quality rubric")); err != nil {
		return nil, err
	}
	if m.CandidatesMerged, err = meter.Int64Counter("pricelearn.candidates.merged",
		metric.WithDescription("Candidate learnings merged into an existing learning")); err != nil {
		return nil, err
	}
	if m.CandidatesReview, err = meter.Int64Counter("pricelearn.candidates.review",
		metric.WithDescription("Candidate learnings stored with the review-only flag")); err != nil {
		return nil, err
	}
	if m.OutcomesReceived, err = meter.Int64Counter("pricelearn.outcomes.received",
		metric.WithDescription("Outcome events accepted for processing")); err != nil {
		return nil, err
	}
	if m.InjectionsServed, err = meter.Int64Counter("pricelearn.injections.served",
		metric.WithDescription("Injection contexts assembled for quote generation")); err != nil {
		return nil, err
	}
	if m.DeadLetters, err = meter.Int64Counter("pricelearn.events.dead_lettered",
		metric.WithDescription("Events escalated after exhausting retries")); err != nil {
		return nil, err
	}
	if m.DNARuns, err = meter.Int64Counter("pricelearn.dna.runs",
		metric.WithDescription("Contractor DNA analysis runs")); err != nil {
		return nil, err
	}
	return m, nil
}

// Add is a nil-safe counter increment with a business attribute.
func Add(ctx context.Context, counter metric.Int64Counter, businessID string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("business_id", businessID)))
}

var (
	conflictOnce    sync.Once
	conflictCounter metric.Int64Counter
)

// VersionConflict counts one optimistic-concurrency retry in a learning
// store. The instrument lives at package level because the store backends
// are constructed before the service's Metrics bundle exists.
func VersionConflict(ctx context.Context, businessID string) {
	conflictOnce.Do(func() {
		conflictCounter, _ = otel.Meter(meterName).Int64Counter("pricelearn.store.version_conflicts",
			metric.WithDescription("Optimistic-concurrency retries in the learning store"))
	})
	Add(ctx, conflictCounter, businessID)
}
