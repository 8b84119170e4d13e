package domain

import (
	"context"
	"errors"
)

var (
	ErrTierCatalogUnavailable = errors.New("tier_catalog_unavailable")
	ErrTierNotFound           = errors.New("tier_not_found")
)

// Tier is one purchasable subscription level discovered from the billing
// provider's price list.
type Tier struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	BillingPriceID   string `json:"billing_price_id"`
	CreditsGranted   int64  `json:"credits_granted"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

// Catalog is the current tier set. Stale marks a set served from the
// last-good fallback while the provider was unreachable.
type Catalog struct {
	Tiers []Tier `json:"tiers"`
	Stale bool   `json:"stale"`
}

func (c *Catalog) FindByID(tierID string) (*Tier, bool) {
	for i := range c.Tiers {
		if c.Tiers[i].ID == tierID {
			return &c.Tiers[i], true
		}
	}
	return nil, false
}

type Service interface {
	GetTiers(ctx context.Context) (*Catalog, error)
	// Refresh drops the cache and re-discovers tiers from the provider.
	Refresh(ctx context.Context) (*Catalog, error)
	// FindTier resolves a tier id against the current catalog.
	FindTier(ctx context.Context, tierID string) (*Tier, error)
}
