// Package migration creates the billing tables on startup so local and
// self-hosted deployments work out of the box.
package migration

import (
	accountdomain "github.com/searchleads/billing/internal/account/domain"
	invoicelogdomain "github.com/searchleads/billing/internal/invoicelog/domain"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	"gorm.io/gorm"
)

func Models() []any {
	return []any{
		&accountdomain.CreditAccount{},
		&accountdomain.UsageLog{},
		&subscriptiondomain.SubscriptionRecord{},
		&subscriptiondomain.PendingUpgrade{},
		&invoicelogdomain.InvoiceRecord{},
	}
}

func Run(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
