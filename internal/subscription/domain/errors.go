package domain

import "errors"

var (
	ErrSubscriptionNotFound   = errors.New("subscription_not_found")
	ErrNoActiveSubscription   = errors.New("subscription_not_active")
	ErrAlreadySubscribed      = errors.New("subscription_already_active")
	ErrUpgradeInProgress      = errors.New("subscription_upgrade_in_progress")
	ErrUpgradeCancelExhausted = errors.New("subscription_upgrade_cancel_exhausted")
	ErrPendingUpgradeNotFound = errors.New("subscription_pending_upgrade_not_found")
	ErrSameTier               = errors.New("subscription_same_tier")
)
