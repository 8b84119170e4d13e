// Package gateway defines the billing-provider surface the core consumes.
// The provider is assumed correct; this package only shapes its API.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidConfig        = errors.New("gateway_invalid_config")
	ErrCallFailed           = errors.New("gateway_call_failed")
	ErrSubscriptionNotFound = errors.New("gateway_subscription_not_found")
	ErrCouponNotFound       = errors.New("gateway_coupon_not_found")
)

// Subscription is the provider-side view of a recurring agreement.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	Metadata          map[string]string
	LatestInvoice     *Invoice
}

// Invoice carries the payment handle for a newly created subscription.
type Invoice struct {
	ID              string
	SubscriptionID  string
	CustomerID      string
	Status          string
	AmountDue       int64
	AmountPaid      int64
	PaymentIntentID string
	ClientSecret    string
}

// Price is one purchasable price object; tier discovery filters these.
type Price struct {
	ID          string
	ProductID   string
	ProductName string
	UnitAmount  int64
	Currency    string
	Interval    string
	Active      bool
	Recurring   bool
}

type Coupon struct {
	ID         string
	Name       string
	PercentOff float64
	AmountOff  int64
	Valid      bool
}

type CreateSubscriptionParams struct {
	CustomerID string
	PriceID    string
	// Metadata tags the subscription so asynchronous confirmation can map
	// it back onto a user and tier.
	Metadata map[string]string
}

// Gateway is the outbound billing-provider API.
type Gateway interface {
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*Subscription, error)
	ListPrices(ctx context.Context) ([]Price, error)
	RetrieveCoupon(ctx context.Context, code string) (*Coupon, error)
}

// Metadata keys attached to provider subscriptions.
const (
	MetadataUserID      = "userId"
	MetadataTierID      = "tierId"
	MetadataCredits     = "credits"
	MetadataUpgradeFrom = "upgradeFrom"
	MetadataIsUpgrade   = "isUpgrade"
)
