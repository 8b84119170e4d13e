package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// SubscriptionRecord is the local mirror of a user's provider subscription.
// BillingSubscriptionID always points at the current provider subscription;
// upgrades replace it atomically once the new subscription is paid.
type SubscriptionRecord struct {
	UserID                string `gorm:"primaryKey"`
	BillingCustomerID     string
	BillingSubscriptionID string `gorm:"index"`
	Status                Status
	PlanTierID            string
	PlanCredits           int64
	CurrentPeriodEnd      time.Time
	CancelAtPeriodEnd     bool

	// UpgradeLocked serializes upgrades per user across processes. The
	// timestamp backs the stale-lock sweep.
	UpgradeLocked   bool
	UpgradeLockedAt *time.Time

	Metadata datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SubscriptionRecord) TableName() string {
	return "subscription_records"
}

// PendingUpgrade is the legacy in-place upgrade marker: credits are granted
// when the provider confirms the updated subscription, or the record expires.
type PendingUpgrade struct {
	ID             snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	UserID         string
	SubscriptionID string `gorm:"uniqueIndex"`
	TargetTierID   string
	TargetCredits  int64
	ExpiresAt      time.Time `gorm:"index"`
	CreatedAt      time.Time
}

func (PendingUpgrade) TableName() string {
	return "pending_upgrades"
}

// CheckoutIntent is handed back to the client to complete payment.
type CheckoutIntent struct {
	SubscriptionID  string
	InvoiceID       string
	PaymentIntentID string
	ClientSecret    string
	AmountDue       int64
}
