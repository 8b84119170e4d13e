// Package domain contains the credit account models and the pure deduction
// math used by the ledger service.
package domain

import (
	"time"
)

// Pool selects which credit pools a deduction draws from.
type Pool string

const (
	// PoolCombined draws subscription credits first, then purchased credits.
	PoolCombined Pool = "combined"
	// PoolSearch draws the separately metered search pool only.
	PoolSearch Pool = "search"
)

// CreditAccount owns the three credit pools for one user. It is mutated only
// through the ledger service; the audit counters never decrease.
type CreditAccount struct {
	UserID              string  `gorm:"primaryKey;column:user_id"`
	PurchasedCredits    int64   `gorm:"not null;default:0"`
	SubscriptionCredits int64   `gorm:"not null;default:0"`
	SearchCredits       float64 `gorm:"not null;default:0"`
	TotalBought         int64   `gorm:"not null;default:0"`
	TotalUsed           int64   `gorm:"not null;default:0"`
	TotalSearchUsed     float64 `gorm:"not null;default:0"`

	// Version guards read-modify-write cycles; every mutation is a
	// compare-and-set on this column.
	Version int64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditAccount) TableName() string { return "credit_accounts" }

// TotalCredits is the spendable combined balance.
func (a *CreditAccount) TotalCredits() int64 {
	return a.SubscriptionCredits + a.PurchasedCredits
}

type UsageStatus string

const (
	UsageStatusReserved  UsageStatus = "reserved"
	UsageStatusCompleted UsageStatus = "completed"
	UsageStatusRefunded  UsageStatus = "refunded"
)

// UsageLog records an optimistic credit reservation and, once the external
// work completes, the credits actually consumed. It is the only allowed
// input for computing a refund amount.
type UsageLog struct {
	LogID           string      `gorm:"primaryKey;column:log_id"`
	UserID          string      `gorm:"not null;index"`
	CreditsReserved int64       `gorm:"not null"`
	CreditsUsed     *int64      `gorm:""`
	Status          UsageStatus `gorm:"type:text;not null"`
	CreatedAt       time.Time   `gorm:"not null"`
	UpdatedAt       time.Time   `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageLog) TableName() string { return "usage_logs" }

// Balances is the read model returned to callers.
type Balances struct {
	SubscriptionCredits int64   `json:"subscriptionCredits"`
	PurchasedCredits    int64   `json:"purchasedCredits"`
	SearchCredits       float64 `json:"searchCredits"`
	TotalCredits        int64   `json:"totalCredits"`
}

// DeductionSplit describes how a combined-pool deduction is divided.
type DeductionSplit struct {
	FromSubscription int64
	FromPurchased    int64
}

// SplitDeduction computes the subscription-first split of a combined-pool
// deduction as a pure function of the balances. The returned shortfall is
// positive when the pools cannot cover the amount, in which case the split
// is zero.
func SplitDeduction(subscription, purchased, amount int64) (DeductionSplit, int64) {
	total := subscription + purchased
	if total < amount {
		return DeductionSplit{}, amount - total
	}
	if subscription >= amount {
		return DeductionSplit{FromSubscription: amount}, 0
	}
	return DeductionSplit{
		FromSubscription: subscription,
		FromPurchased:    amount - subscription,
	}, 0
}

// RefundAmount computes the credits returned for a reservation once actual
// usage is known. Over-consumption never produces a negative refund.
func RefundAmount(reserved, used int64) int64 {
	if reserved > used {
		return reserved - used
	}
	return 0
}
