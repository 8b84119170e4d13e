package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *CreditAccount) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*CreditAccount, error)
	// UpdateVersioned writes the account only if the stored version still
	// equals expectedVersion. Returns false when another writer won the race.
	UpdateVersioned(ctx context.Context, db *gorm.DB, account *CreditAccount, expectedVersion int64) (bool, error)

	InsertUsageLog(ctx context.Context, db *gorm.DB, log *UsageLog) error
	FindUsageLog(ctx context.Context, db *gorm.DB, logID string) (*UsageLog, error)
	// MarkUsageRefunded flips the log to refunded; returns false if it was
	// already refunded (the refund must then be a no-op).
	MarkUsageRefunded(ctx context.Context, db *gorm.DB, logID string, used int64, now time.Time) (bool, error)
}
