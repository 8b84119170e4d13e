package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() subscriptiondomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, record *subscriptiondomain.SubscriptionRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.SubscriptionRecord, error) {
	var record subscriptiondomain.SubscriptionRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByBillingSubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*subscriptiondomain.SubscriptionRecord, error) {
	var record subscriptiondomain.SubscriptionRecord
	err := db.WithContext(ctx).
		Where("billing_subscription_id = ?", subscriptionID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, record *subscriptiondomain.SubscriptionRecord) error {
	return db.WithContext(ctx).Save(record).Error
}

func (r *repository) AcquireUpgradeLock(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("user_id = ? AND upgrade_locked = ?", userID, false).
		Updates(map[string]any{
			"upgrade_locked":    true,
			"upgrade_locked_at": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ReleaseUpgradeLock(ctx context.Context, db *gorm.DB, userID string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"upgrade_locked":    false,
			"upgrade_locked_at": nil,
			"updated_at":        now,
		}).Error
}

func (r *repository) ReleaseStaleLocks(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("upgrade_locked = ? AND upgrade_locked_at < ?", true, cutoff).
		Updates(map[string]any{
			"upgrade_locked":    false,
			"upgrade_locked_at": nil,
			"updated_at":        now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) SavePendingUpgrade(ctx context.Context, db *gorm.DB, upgrade *subscriptiondomain.PendingUpgrade) error {
	// One pending upgrade per subscription; a newer request replaces it.
	err := db.WithContext(ctx).
		Where("subscription_id = ?", upgrade.SubscriptionID).
		Delete(&subscriptiondomain.PendingUpgrade{}).Error
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Create(upgrade).Error
}

func (r *repository) FindPendingUpgrade(ctx context.Context, db *gorm.DB, subscriptionID string) (*subscriptiondomain.PendingUpgrade, error) {
	var upgrade subscriptiondomain.PendingUpgrade
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&upgrade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &upgrade, nil
}

func (r *repository) DeletePendingUpgrade(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&subscriptiondomain.PendingUpgrade{}).Error
}

func (r *repository) DeleteExpiredPendingUpgrades(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&subscriptiondomain.PendingUpgrade{})
	return res.RowsAffected, res.Error
}
