package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	accountdomain "github.com/searchleads/billing/internal/account/domain"
	"github.com/searchleads/billing/internal/clock"
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/internal/gateway"
	stripegw "github.com/searchleads/billing/internal/gateway/stripe"
	invoicelogdomain "github.com/searchleads/billing/internal/invoicelog/domain"
	"github.com/searchleads/billing/internal/observability/metrics"
	paymentdomain "github.com/searchleads/billing/internal/payment/domain"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	"github.com/searchleads/billing/internal/webhookevent"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "whsec_test"

// Recording mocks

type mockCoordinator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockCoordinator) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockCoordinator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockCoordinator) Status(ctx context.Context, userID string) (*subscriptiondomain.SubscriptionRecord, error) {
	return nil, subscriptiondomain.ErrSubscriptionNotFound
}

func (m *mockCoordinator) RequestCreate(ctx context.Context, userID, customerID, tierID string) (*subscriptiondomain.CheckoutIntent, error) {
	return nil, m.record("RequestCreate")
}

func (m *mockCoordinator) RequestUpgrade(ctx context.Context, userID, tierID string) (*subscriptiondomain.CheckoutIntent, error) {
	return nil, m.record("RequestUpgrade")
}

func (m *mockCoordinator) RequestCancel(ctx context.Context, userID string) error {
	return m.record("RequestCancel")
}

func (m *mockCoordinator) Resume(ctx context.Context, userID string) error {
	return m.record("Resume")
}

func (m *mockCoordinator) ConfirmCreate(ctx context.Context, sub *gateway.Subscription) error {
	return m.record("ConfirmCreate:" + sub.ID)
}

func (m *mockCoordinator) ConfirmUpgrade(ctx context.Context, sub *gateway.Subscription) error {
	return m.record("ConfirmUpgrade:" + sub.ID)
}

func (m *mockCoordinator) ConfirmCancel(ctx context.Context, subscriptionID string) error {
	return m.record("ConfirmCancel:" + subscriptionID)
}

func (m *mockCoordinator) GrantCycle(ctx context.Context, subscriptionID string) error {
	return m.record("GrantCycle:" + subscriptionID)
}

func (m *mockCoordinator) AbortUpgrade(ctx context.Context, sub *gateway.Subscription) error {
	return m.record("AbortUpgrade:" + sub.ID)
}

func (m *mockCoordinator) MarkPastDue(ctx context.Context, subscriptionID string) error {
	return m.record("MarkPastDue:" + subscriptionID)
}

func (m *mockCoordinator) CleanupFailedInitial(ctx context.Context, subscriptionID string) error {
	return m.record("CleanupFailedInitial:" + subscriptionID)
}

func (m *mockCoordinator) StorePendingUpgrade(ctx context.Context, userID, subscriptionID, tierID string, credits int64) error {
	return m.record("StorePendingUpgrade:" + subscriptionID)
}

func (m *mockCoordinator) ConfirmLegacyUpgrade(ctx context.Context, subscriptionID string) error {
	return m.record("ConfirmLegacyUpgrade:" + subscriptionID)
}

func (m *mockCoordinator) SweepExpiredPendingUpgrades(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockCoordinator) SweepStaleLocks(ctx context.Context) (int64, error) {
	return 0, nil
}

type mockGateway struct {
	gateway.Gateway

	subs map[string]*gateway.Subscription
}

func (m *mockGateway) RetrieveSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, gateway.ErrSubscriptionNotFound
}

type mockAccounts struct {
	accountdomain.Service

	mu        sync.Mutex
	purchases []int64
}

func (m *mockAccounts) AddPurchasedCredits(ctx context.Context, userID string, amount int64, searchAmount float64) (accountdomain.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = append(m.purchases, amount)
	return accountdomain.Balances{PurchasedCredits: amount}, nil
}

type mockInvoices struct {
	mu      sync.Mutex
	records []*invoicelogdomain.InvoiceRecord
}

func (m *mockInvoices) Record(ctx context.Context, record *invoicelogdomain.InvoiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *mockInvoices) History(ctx context.Context, userID string, limit int) ([]invoicelogdomain.InvoiceRecord, error) {
	return nil, nil
}

type fixture struct {
	engine      paymentdomain.Engine
	clock       *clock.FakeClock
	coordinator *mockCoordinator
	gw          *mockGateway
	accounts    *mockAccounts
	invoices    *mockInvoices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := webhookevent.NewStore(webhookevent.Params{
		Redis: rdb,
		Log:   zap.NewNop(),
		Cfg:   config.Config{EventRetentionSeconds: 86400},
	})

	coordinator := &mockCoordinator{}
	gw := &mockGateway{subs: map[string]*gateway.Subscription{}}
	accounts := &mockAccounts{}
	invoices := &mockInvoices{}

	engine := NewEngine(Params{
		Log:         zap.NewNop(),
		Clock:       fakeClock,
		Verifier:    stripegw.NewVerifier(testSecret),
		Events:      store,
		Gateway:     gw,
		Coordinator: coordinator,
		Accounts:    accounts,
		Invoices:    invoices,
		Pricing: config.NewStaticPricingHolder(config.PricingConfig{
			CostPerThousandCredits: 5,
			SearchCreditPercent:    10,
			CurrencyRates:          map[string]float64{"USD": 1},
		}),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})

	return &fixture{
		engine:      engine,
		clock:       fakeClock,
		coordinator: coordinator,
		gw:          gw,
		accounts:    accounts,
		invoices:    invoices,
	}
}

func (f *fixture) deliver(t *testing.T, payload string) (paymentdomain.Outcome, error) {
	t.Helper()
	sig := stripegw.SignPayload(testSecret, []byte(payload), f.clock.Now())
	return f.engine.HandleWebhook(context.Background(), []byte(payload), sig)
}

func invoicePaidEvent(eventID, subID, reason string, created int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "invoice.payment_succeeded",
		"created": %d,
		"data": {"object": {
			"id": "in_1",
			"subscription": %q,
			"customer": "cus_1",
			"billing_reason": %q,
			"status": "paid",
			"amount_paid": 5000,
			"currency": "usd"
		}}
	}`, eventID, created, subID, reason)
}

func TestRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	payload := invoicePaidEvent("evt_1", "sub_1", "subscription_create", 1000)

	_, err := f.engine.HandleWebhook(context.Background(), []byte(payload), "t=1,v1=bogus")
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	require.Empty(t, f.coordinator.Calls())
}

func TestConfirmCreateDispatchAndDeduplication(t *testing.T) {
	f := newFixture(t)
	f.gw.subs["sub_1"] = &gateway.Subscription{
		ID:       "sub_1",
		Metadata: map[string]string{"userId": "u1", "tierId": "tier_10k", "credits": "10000"},
	}
	payload := invoicePaidEvent("evt_1", "sub_1", "subscription_create", 1000)

	outcome, err := f.deliver(t, payload)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []string{"ConfirmCreate:sub_1"}, f.coordinator.Calls())
	require.Len(t, f.invoices.records, 1)
	require.Equal(t, "u1", f.invoices.records[0].UserID)

	// The provider redelivers; the event id short-circuits.
	outcome, err = f.deliver(t, payload)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeDuplicate, outcome)
	require.Equal(t, []string{"ConfirmCreate:sub_1"}, f.coordinator.Calls())
	require.Len(t, f.invoices.records, 1)
}

func TestUpgradeMetadataRoutesToConfirmUpgrade(t *testing.T) {
	f := newFixture(t)
	f.gw.subs["sub_2"] = &gateway.Subscription{
		ID: "sub_2",
		Metadata: map[string]string{
			"userId": "u1", "tierId": "tier_50k", "credits": "50000",
			"upgradeFrom": "sub_1", "isUpgrade": "true",
		},
	}

	outcome, err := f.deliver(t, invoicePaidEvent("evt_1", "sub_2", "subscription_create", 1000))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []string{"ConfirmUpgrade:sub_2"}, f.coordinator.Calls())
}

func TestOutOfOrderEventIsDropped(t *testing.T) {
	f := newFixture(t)

	// The deletion (later event) lands first.
	deleted := fmt.Sprintf(`{
		"id": "evt_b",
		"type": "customer.subscription.deleted",
		"created": %d,
		"data": {"object": {"id": "sub_1", "customer": "cus_1", "status": "canceled"}}
	}`, int64(2000))
	outcome, err := f.deliver(t, deleted)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []string{"ConfirmCancel:sub_1"}, f.coordinator.Calls())

	// The delayed renewal for the same subscription must not resurrect it.
	outcome, err = f.deliver(t, invoicePaidEvent("evt_a", "sub_1", "subscription_cycle", 1000))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeStale, outcome)
	require.Equal(t, []string{"ConfirmCancel:sub_1"}, f.coordinator.Calls())
}

func TestRenewalGrantsCycle(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.deliver(t, invoicePaidEvent("evt_1", "sub_1", "subscription_cycle", 1000))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []string{"GrantCycle:sub_1"}, f.coordinator.Calls())
}

func TestLegacyUpdateRoutesToPendingUpgrade(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.deliver(t, invoicePaidEvent("evt_1", "sub_1", "subscription_update", 1000))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []string{"ConfirmLegacyUpgrade:sub_1"}, f.coordinator.Calls())
}

func TestPaymentFailureBranches(t *testing.T) {
	f := newFixture(t)
	f.gw.subs["sub_up"] = &gateway.Subscription{
		ID:       "sub_up",
		Metadata: map[string]string{"userId": "u1", "isUpgrade": "true", "upgradeFrom": "sub_1"},
	}

	failed := func(eventID, subID, reason string, created int64) string {
		return fmt.Sprintf(`{
			"id": %q,
			"type": "invoice.payment_failed",
			"created": %d,
			"data": {"object": {
				"id": "in_1", "subscription": %q, "customer": "cus_1",
				"billing_reason": %q, "status": "open", "amount_due": 5000, "currency": "usd"
			}}
		}`, eventID, created, subID, reason)
	}

	// Upgrade invoice failed: tear down the replacement.
	outcome, err := f.deliver(t, failed("evt_1", "sub_up", "subscription_create", 1000))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []string{"AbortUpgrade:sub_up"}, f.coordinator.Calls())

	// First subscription invoice failed: roll it back.
	outcome, err = f.deliver(t, failed("evt_2", "sub_first", "subscription_create", 1001))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Contains(t, f.coordinator.Calls(), "CleanupFailedInitial:sub_first")

	// Renewal failed: past due.
	outcome, err = f.deliver(t, failed("evt_3", "sub_cycle", "subscription_cycle", 1002))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Contains(t, f.coordinator.Calls(), "MarkPastDue:sub_cycle")
}

func TestInternalErrorIsAbsorbedAndMarked(t *testing.T) {
	f := newFixture(t)
	f.coordinator.err = gateway.ErrCallFailed

	payload := fmt.Sprintf(`{
		"id": "evt_1",
		"type": "customer.subscription.deleted",
		"created": %d,
		"data": {"object": {"id": "sub_1", "customer": "cus_1", "status": "canceled"}}
	}`, int64(1000))

	outcome, err := f.deliver(t, payload)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeFailed, outcome)

	// The event was marked processed despite the failure, so the provider's
	// redelivery is a duplicate rather than a second partial application.
	outcome, err = f.deliver(t, payload)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeDuplicate, outcome)
}

func TestOneTimePurchaseCreditsLedger(t *testing.T) {
	f := newFixture(t)

	purchase := fmt.Sprintf(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "pi_1",
			"description": "Credit purchase",
			"amount_received": 2500,
			"currency": "usd",
			"metadata": {"userId": "u1", "credits": "500"}
		}}
	}`, int64(1000))

	outcome, err := f.deliver(t, purchase)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []int64{500}, f.accounts.purchases)
	require.Len(t, f.invoices.records, 1)
	require.Equal(t, invoicelogdomain.KindCreditPurchase, f.invoices.records[0].Kind)

	// Subscription-backed intents settle through invoice events instead.
	subIntent := fmt.Sprintf(`{
		"id": "evt_2",
		"type": "payment_intent.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "pi_2", "invoice": "in_9",
			"amount_received": 5000, "currency": "usd",
			"metadata": {"userId": "u1", "credits": "10000"}
		}}
	}`, int64(1001))
	outcome, err = f.deliver(t, subIntent)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Equal(t, []int64{500}, f.accounts.purchases)
}

func TestPaymentIntentSkipsUnverifiedPurchases(t *testing.T) {
	f := newFixture(t)

	intent := func(eventID, description string, amountReceived int64, created int64) string {
		return fmt.Sprintf(`{
			"id": %q,
			"type": "payment_intent.succeeded",
			"created": %d,
			"data": {"object": {
				"id": "pi_1",
				"description": %q,
				"amount_received": %d,
				"currency": "usd",
				"metadata": {"userId": "u1", "credits": "500"}
			}}
		}`, eventID, created, description, amountReceived)
	}

	// The description filter is case-insensitive.
	outcome, err := f.deliver(t, intent("evt_1", "subscription renewal", 2500, 1000))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Empty(t, f.accounts.purchases)

	// Nothing was actually charged: no grant.
	outcome, err = f.deliver(t, intent("evt_2", "Credit purchase", 0, 1001))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	require.Empty(t, f.accounts.purchases)
	require.Empty(t, f.invoices.records)
}

func TestUnhandledEventIsIgnoredButMarked(t *testing.T) {
	f := newFixture(t)

	payload := `{"id": "evt_1", "type": "charge.refunded", "created": 1000, "data": {"object": {}}}`
	outcome, err := f.deliver(t, payload)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeIgnored, outcome)

	outcome, err = f.deliver(t, payload)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeDuplicate, outcome)
}
