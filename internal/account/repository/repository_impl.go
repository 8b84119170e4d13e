package repository

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/searchleads/billing/internal/account/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() accountdomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, account *accountdomain.CreditAccount) error {
	return db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*accountdomain.CreditAccount, error) {
	var account accountdomain.CreditAccount
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, db *gorm.DB, account *accountdomain.CreditAccount, expectedVersion int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&accountdomain.CreditAccount{}).
		Where("user_id = ? AND version = ?", account.UserID, expectedVersion).
		Updates(map[string]any{
			"purchased_credits":    account.PurchasedCredits,
			"subscription_credits": account.SubscriptionCredits,
			"search_credits":       account.SearchCredits,
			"total_bought":         account.TotalBought,
			"total_used":           account.TotalUsed,
			"total_search_used":    account.TotalSearchUsed,
			"version":              account.Version,
			"updated_at":           account.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) InsertUsageLog(ctx context.Context, db *gorm.DB, log *accountdomain.UsageLog) error {
	return db.WithContext(ctx).Create(log).Error
}

func (r *repository) FindUsageLog(ctx context.Context, db *gorm.DB, logID string) (*accountdomain.UsageLog, error) {
	var log accountdomain.UsageLog
	err := db.WithContext(ctx).
		Where("log_id = ?", logID).
		First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

func (r *repository) MarkUsageRefunded(ctx context.Context, db *gorm.DB, logID string, used int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&accountdomain.UsageLog{}).
		Where("log_id = ? AND status <> ?", logID, accountdomain.UsageStatusRefunded).
		Updates(map[string]any{
			"status":       accountdomain.UsageStatusRefunded,
			"credits_used": used,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
