package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/internal/gateway"
	tierdomain "github.com/searchleads/billing/internal/tier/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	gateway.Gateway

	prices []gateway.Price
	err    error
	calls  int
}

func (f *fakeGateway) ListPrices(ctx context.Context) ([]gateway.Price, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

func testPrices() []gateway.Price {
	return []gateway.Price{
		{ID: "price_50k", ProductName: "searchleads_recurring_tier_50k", UnitAmount: 25000, Currency: "USD", Interval: "month", Active: true, Recurring: true},
		{ID: "price_10k", ProductName: "searchleads_recurring_tier_10k", UnitAmount: 5000, Currency: "USD", Interval: "month", Active: true, Recurring: true},
		{ID: "price_other", ProductName: "some_other_product", UnitAmount: 900, Currency: "USD", Interval: "month", Active: true, Recurring: true},
		{ID: "price_yearly", ProductName: "searchleads_recurring_tier_5k", UnitAmount: 50000, Currency: "USD", Interval: "year", Active: true, Recurring: true},
		{ID: "price_inactive", ProductName: "searchleads_recurring_tier_20k", UnitAmount: 10000, Currency: "USD", Interval: "month", Active: false, Recurring: true},
	}
}

func newTestService(t *testing.T, gw *fakeGateway) (tierdomain.Service, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewService(Params{
		Gateway: gw,
		Redis:   rdb,
		Log:     zap.NewNop(),
		Cfg:     config.Config{TierNamespace: "searchleads", TierCacheTTLSeconds: 3600},
	})
	return svc, mr
}

func TestDiscoveryFiltersAndSorts(t *testing.T) {
	gw := &fakeGateway{prices: testPrices()}
	svc, _ := newTestService(t, gw)

	catalog, err := svc.GetTiers(context.Background())
	require.NoError(t, err)
	require.False(t, catalog.Stale)
	require.Len(t, catalog.Tiers, 2)

	require.Equal(t, "tier_10k", catalog.Tiers[0].ID)
	require.Equal(t, int64(10000), catalog.Tiers[0].CreditsGranted)
	require.Equal(t, "price_10k", catalog.Tiers[0].BillingPriceID)
	require.Equal(t, "tier_50k", catalog.Tiers[1].ID)
	require.Equal(t, int64(50000), catalog.Tiers[1].CreditsGranted)
}

func TestCachedCatalogSkipsGateway(t *testing.T) {
	gw := &fakeGateway{prices: testPrices()}
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	_, err := svc.GetTiers(ctx)
	require.NoError(t, err)
	_, err = svc.GetTiers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, gw.calls)
}

func TestStaleFallbackOnGatewayOutage(t *testing.T) {
	gw := &fakeGateway{prices: testPrices()}
	svc, mr := newTestService(t, gw)
	ctx := context.Background()

	_, err := svc.GetTiers(ctx)
	require.NoError(t, err)

	// TTL key gone, provider down: the last-good copy is served flagged.
	mr.Del("tiers:current")
	gw.err = errors.New("provider down")

	catalog, err := svc.GetTiers(ctx)
	require.NoError(t, err)
	require.True(t, catalog.Stale)
	require.Len(t, catalog.Tiers, 2)
}

func TestUnavailableWithoutAnyCache(t *testing.T) {
	gw := &fakeGateway{err: errors.New("provider down")}
	svc, _ := newTestService(t, gw)

	_, err := svc.GetTiers(context.Background())
	require.ErrorIs(t, err, tierdomain.ErrTierCatalogUnavailable)
}

func TestRefreshRediscovers(t *testing.T) {
	gw := &fakeGateway{prices: testPrices()}
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	_, err := svc.GetTiers(ctx)
	require.NoError(t, err)

	gw.prices = gw.prices[:2]
	catalog, err := svc.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, gw.calls)
	require.Len(t, catalog.Tiers, 2)
}

func TestFindTier(t *testing.T) {
	gw := &fakeGateway{prices: testPrices()}
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	tier, err := svc.FindTier(ctx, "tier_50k")
	require.NoError(t, err)
	require.Equal(t, int64(50000), tier.CreditsGranted)

	_, err = svc.FindTier(ctx, "tier_999k")
	require.ErrorIs(t, err, tierdomain.ErrTierNotFound)
}
