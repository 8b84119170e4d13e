package repository

import (
	"context"

	invoicelogdomain "github.com/searchleads/billing/internal/invoicelog/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() invoicelogdomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, record *invoicelogdomain.InvoiceRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repository) ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]invoicelogdomain.InvoiceRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var records []invoicelogdomain.InvoiceRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
