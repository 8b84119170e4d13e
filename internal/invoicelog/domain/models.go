package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Kind string

const (
	KindSubscriptionInvoice Kind = "subscription_invoice"
	KindCreditPurchase      Kind = "credit_purchase"
)

// InvoiceRecord is one row of billing history. Rows are append-only; they
// mirror settled provider charges and are never edited.
type InvoiceRecord struct {
	ID                snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	UserID            string       `gorm:"index"`
	Kind              Kind
	ProviderInvoiceID string `gorm:"index"`
	SubscriptionID    string
	TierID            string
	Credits           int64
	AmountMinorUnits  int64
	Currency          string
	CreatedAt         time.Time
}

func (InvoiceRecord) TableName() string {
	return "invoice_records"
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *InvoiceRecord) error
	ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]InvoiceRecord, error)
}

type Service interface {
	Record(ctx context.Context, record *InvoiceRecord) error
	History(ctx context.Context, userID string, limit int) ([]InvoiceRecord, error)
}
