package domain

import (
	"context"

	"github.com/searchleads/billing/internal/gateway"
)

// Coordinator owns the subscription lifecycle on both sides: outbound
// requests against the billing provider and inbound confirmations from its
// webhooks. Requests are optimistic; credits only move on confirmations.
type Coordinator interface {
	Status(ctx context.Context, userID string) (*SubscriptionRecord, error)

	// RequestCreate starts a first subscription. The returned intent carries
	// the payment handle; nothing is granted until the invoice settles.
	RequestCreate(ctx context.Context, userID, customerID, tierID string) (*CheckoutIntent, error)
	// RequestUpgrade creates a tagged replacement subscription under the
	// per-user upgrade lock. Any synchronous failure releases the lock.
	RequestUpgrade(ctx context.Context, userID, tierID string) (*CheckoutIntent, error)
	// RequestCancel schedules cancellation at period end.
	RequestCancel(ctx context.Context, userID string) error
	// Resume clears a scheduled cancellation.
	Resume(ctx context.Context, userID string) error

	// ConfirmCreate activates the subscription named by the paid invoice.
	ConfirmCreate(ctx context.Context, sub *gateway.Subscription) error
	// ConfirmUpgrade cancels the replaced subscription with bounded retries,
	// swaps ids, grants the new tier's credits and releases the lock.
	ConfirmUpgrade(ctx context.Context, sub *gateway.Subscription) error
	// ConfirmCancel finalizes a provider-side deletion. It is a no-op when
	// the deleted id is not the user's current subscription.
	ConfirmCancel(ctx context.Context, subscriptionID string) error
	// GrantCycle applies the monthly credit reset for a renewal invoice.
	GrantCycle(ctx context.Context, subscriptionID string) error
	// AbortUpgrade tears down a replacement subscription whose first invoice
	// failed, leaving the original subscription untouched.
	AbortUpgrade(ctx context.Context, sub *gateway.Subscription) error
	// MarkPastDue records a failed renewal payment.
	MarkPastDue(ctx context.Context, subscriptionID string) error
	// CleanupFailedInitial rolls back a first subscription whose initial
	// invoice failed.
	CleanupFailedInitial(ctx context.Context, subscriptionID string) error

	// StorePendingUpgrade records a legacy in-place upgrade awaiting its
	// provider confirmation, replacing any prior record for the subscription.
	StorePendingUpgrade(ctx context.Context, userID, subscriptionID, tierID string, credits int64) error
	// ConfirmLegacyUpgrade applies a stored pending upgrade when the updated
	// subscription's invoice settles.
	ConfirmLegacyUpgrade(ctx context.Context, subscriptionID string) error

	SweepExpiredPendingUpgrades(ctx context.Context) (int64, error)
	SweepStaleLocks(ctx context.Context) (int64, error)
}
