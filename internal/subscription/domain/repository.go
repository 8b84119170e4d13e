package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *SubscriptionRecord) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*SubscriptionRecord, error)
	FindByBillingSubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*SubscriptionRecord, error)
	Update(ctx context.Context, db *gorm.DB, record *SubscriptionRecord) error

	// AcquireUpgradeLock flips upgrade_locked only when currently unlocked;
	// false means another upgrade holds the lock.
	AcquireUpgradeLock(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error)
	ReleaseUpgradeLock(ctx context.Context, db *gorm.DB, userID string, now time.Time) error
	// ReleaseStaleLocks frees locks acquired before the cutoff.
	ReleaseStaleLocks(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error)

	SavePendingUpgrade(ctx context.Context, db *gorm.DB, upgrade *PendingUpgrade) error
	FindPendingUpgrade(ctx context.Context, db *gorm.DB, subscriptionID string) (*PendingUpgrade, error)
	DeletePendingUpgrade(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	DeleteExpiredPendingUpgrades(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
