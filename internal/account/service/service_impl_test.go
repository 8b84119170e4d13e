package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	accountdomain "github.com/searchleads/billing/internal/account/domain"
	"github.com/searchleads/billing/internal/account/repository"
	"github.com/searchleads/billing/internal/clock"
	"github.com/searchleads/billing/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) accountdomain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// One connection keeps every test statement on the same in-memory
	// database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&accountdomain.CreditAccount{}, &accountdomain.UsageLog{}))

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Cfg: config.Config{
			RegistrationCredits:       0,
			RegistrationSearchCredits: 0,
		},
		Pricing: config.NewStaticPricingHolder(config.PricingConfig{
			CostPerThousandCredits: 5,
			SearchCreditPercent:    10,
			CurrencyRates:          map[string]float64{"USD": 1},
		}),
	})
}

func seedBalances(t *testing.T, svc accountdomain.Service, userID string, subscription, purchased int64) {
	t.Helper()
	_, err := svc.CreateAccount(context.Background(), userID)
	require.NoError(t, err)
	if purchased > 0 {
		_, err = svc.AddPurchasedCredits(context.Background(), userID, purchased, 0)
		require.NoError(t, err)
	}
	if subscription > 0 {
		_, err = svc.GrantSubscriptionCredits(context.Background(), userID, subscription)
		require.NoError(t, err)
	}
}

func TestDeductDrawsSubscriptionFirst(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 300, 200)

	balances, err := svc.Deduct(context.Background(), "u1", 400, accountdomain.PoolCombined)
	require.NoError(t, err)
	require.Equal(t, int64(0), balances.SubscriptionCredits)
	require.Equal(t, int64(100), balances.PurchasedCredits)
	require.Equal(t, int64(100), balances.TotalCredits)
}

func TestDeductShortfall(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 100, 200)

	_, err := svc.Deduct(context.Background(), "u1", 500, accountdomain.PoolCombined)
	require.Error(t, err)

	var insufficient *accountdomain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(500), insufficient.Requested)
	require.Equal(t, int64(300), insufficient.Available)
	require.Equal(t, int64(200), insufficient.Shortfall)

	// A failed deduction must not touch the balances.
	balances, err := svc.GetBalances(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(300), balances.TotalCredits)
}

func TestDeductSearchPool(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 300, 0) // grants 30 search credits at 10%

	balances, err := svc.Deduct(context.Background(), "u1", 20, accountdomain.PoolSearch)
	require.NoError(t, err)
	require.InDelta(t, 10, balances.SearchCredits, 0.001)
	// The combined pools are untouched by a search deduction.
	require.Equal(t, int64(300), balances.SubscriptionCredits)

	_, err = svc.Deduct(context.Background(), "u1", 50, accountdomain.PoolSearch)
	var insufficient *accountdomain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
}

func TestReserveRefundRoundTrip(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 0, 2000)
	ctx := context.Background()

	balances, err := svc.Reserve(ctx, "u1", "log_1", 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), balances.PurchasedCredits)

	result, err := svc.Refund(ctx, "u1", "log_1", 600)
	require.NoError(t, err)
	require.Equal(t, int64(400), result.Refunded)
	require.Equal(t, int64(1400), result.Balances.PurchasedCredits)

	// The refund is computed from the reservation, so replays are inert.
	_, err = svc.Refund(ctx, "u1", "log_1", 600)
	require.ErrorIs(t, err, accountdomain.ErrRefundAlreadyApplied)

	balances, err = svc.GetBalances(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1400), balances.PurchasedCredits)
}

func TestRefundNeverNegative(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 0, 1000)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "u1", "log_1", 500)
	require.NoError(t, err)

	// Used more than reserved: refund clamps at zero.
	result, err := svc.Refund(ctx, "u1", "log_1", 800)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Refunded)
	require.Equal(t, int64(500), result.Balances.PurchasedCredits)
}

func TestGrantOverwritesSubscriptionPool(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 500, 0)
	ctx := context.Background()

	_, err := svc.Deduct(ctx, "u1", 200, accountdomain.PoolCombined)
	require.NoError(t, err)

	// Monthly reset: leftovers do not roll over.
	balances, err := svc.GrantSubscriptionCredits(ctx, "u1", 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), balances.SubscriptionCredits)
	require.InDelta(t, 100, balances.SearchCredits, 0.001)
}

func TestConvertSubscriptionToPurchased(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 1000, 50)

	balances, err := svc.ConvertSubscriptionToPurchased(context.Background(), "u1", 20)
	require.NoError(t, err)
	require.Equal(t, int64(0), balances.SubscriptionCredits)
	require.Equal(t, int64(250), balances.PurchasedCredits)
}

func TestExpireSubscriptionCredits(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 1000, 50)

	balances, err := svc.ExpireSubscriptionCredits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balances.SubscriptionCredits)
	require.Equal(t, int64(50), balances.PurchasedCredits)
}

func TestCreateAccountDuplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, "u1")
	require.ErrorIs(t, err, accountdomain.ErrAccountExists)
}

func TestUnknownAccount(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetBalances(context.Background(), "missing")
	require.ErrorIs(t, err, accountdomain.ErrAccountNotFound)

	_, err = svc.Deduct(context.Background(), "missing", 10, accountdomain.PoolCombined)
	require.ErrorIs(t, err, accountdomain.ErrAccountNotFound)
}

func TestConcurrentDeductions(t *testing.T) {
	svc := newTestService(t)
	seedBalances(t, svc, "u1", 0, 100)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Deduct(context.Background(), "u1", 10, accountdomain.PoolCombined)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}

	balances, err := svc.GetBalances(context.Background(), "u1")
	require.NoError(t, err)
	// Every successful deduction is reflected exactly once.
	require.Equal(t, int64(100)-int64(succeeded)*10, balances.TotalCredits)
	require.GreaterOrEqual(t, balances.TotalCredits, int64(0))
}
