package domain

import (
	"context"
	"time"
)

// Outcome classifies how the engine disposed of a webhook event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// SignatureVerifier authenticates a raw webhook delivery.
type SignatureVerifier interface {
	Verify(payload []byte, sigHeader string, now time.Time) error
}

// Engine reconciles provider webhook deliveries into local state.
type Engine interface {
	// HandleWebhook verifies, deduplicates and dispatches one delivery.
	// The only error it returns is ErrInvalidSignature; every other
	// failure is absorbed so the provider does not redeliver.
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (Outcome, error)
}
