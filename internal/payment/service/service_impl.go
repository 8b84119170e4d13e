package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	accountdomain "github.com/searchleads/billing/internal/account/domain"
	"github.com/searchleads/billing/internal/clock"
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/internal/gateway"
	invoicelogdomain "github.com/searchleads/billing/internal/invoicelog/domain"
	"github.com/searchleads/billing/internal/observability/metrics"
	paymentdomain "github.com/searchleads/billing/internal/payment/domain"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	"github.com/searchleads/billing/internal/webhookevent"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Engine turns provider webhook deliveries into local ledger state. It is
// the only writer that reacts to the provider; every handler it calls must
// tolerate duplicate and out-of-order invocation.
type Engine struct {
	log         *zap.Logger
	clock       clock.Clock
	verifier    paymentdomain.SignatureVerifier
	events      webhookevent.Store
	gateway     gateway.Gateway
	coordinator subscriptiondomain.Coordinator
	accounts    accountdomain.Service
	invoices    invoicelogdomain.Service
	pricing     *config.PricingHolder
	metrics     *metrics.Metrics
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Verifier    paymentdomain.SignatureVerifier
	Events      webhookevent.Store
	Gateway     gateway.Gateway
	Coordinator subscriptiondomain.Coordinator
	Accounts    accountdomain.Service
	Invoices    invoicelogdomain.Service
	Pricing     *config.PricingHolder
	Metrics     *metrics.Metrics
}

func NewEngine(p Params) paymentdomain.Engine {
	return &Engine{
		log:         p.Log.Named("payment.engine"),
		clock:       p.Clock,
		verifier:    p.Verifier,
		events:      p.Events,
		gateway:     p.Gateway,
		coordinator: p.Coordinator,
		accounts:    p.Accounts,
		invoices:    p.Invoices,
		pricing:     p.Pricing,
		metrics:     p.Metrics,
	}
}

func (e *Engine) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (paymentdomain.Outcome, error) {
	if err := e.verifier.Verify(payload, sigHeader, e.clock.Now()); err != nil {
		e.metrics.RecordWebhookEvent("unknown", string(paymentdomain.OutcomeFailed))
		return paymentdomain.OutcomeFailed, paymentdomain.ErrInvalidSignature
	}

	event, err := paymentdomain.ParseEvent(payload)
	if err != nil && !errors.Is(err, paymentdomain.ErrEventIgnored) {
		// Authenticated but unreadable. Absorb it; redelivery of the same
		// bytes cannot do better.
		e.log.Error("webhook payload unparseable", zap.Error(err))
		e.metrics.RecordWebhookEvent("unknown", string(paymentdomain.OutcomeFailed))
		return paymentdomain.OutcomeFailed, nil
	}

	outcome := e.reconcile(ctx, event, errors.Is(err, paymentdomain.ErrEventIgnored))
	e.metrics.RecordWebhookEvent(event.Type, string(outcome))
	return outcome, nil
}

func (e *Engine) reconcile(ctx context.Context, event *paymentdomain.Event, ignored bool) paymentdomain.Outcome {
	log := e.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)

	processed, err := e.events.IsProcessed(ctx, event.ID)
	if err != nil {
		// Redis down: process anyway. The handlers are idempotent, and
		// dropping the event would need a provider redelivery we may not
		// get.
		log.Warn("idempotency lookup failed, processing anyway", zap.Error(err))
	}
	if processed {
		log.Debug("duplicate webhook event dropped")
		return paymentdomain.OutcomeDuplicate
	}

	outcome := paymentdomain.OutcomeProcessed
	subscriptionID := event.SubscriptionID()

	switch {
	case ignored:
		outcome = paymentdomain.OutcomeIgnored
	case subscriptionID != "" && e.isStale(ctx, subscriptionID, event, log):
		log.Info("stale webhook event dropped",
			zap.String("subscription_id", subscriptionID),
			zap.Time("event_created", event.Created),
		)
		outcome = paymentdomain.OutcomeStale
	default:
		if err := e.dispatch(ctx, event); err != nil {
			// Internal failures are logged, never surfaced: returning an
			// error would make the provider redeliver an event we have
			// already partially applied.
			log.Error("webhook reconciliation failed", zap.Error(err))
			outcome = paymentdomain.OutcomeFailed
		}
	}

	if err := e.events.MarkProcessed(ctx, event.ID, subscriptionID, event.Created); err != nil {
		log.Error("mark processed failed", zap.Error(err))
	}
	return outcome
}

func (e *Engine) isStale(ctx context.Context, subscriptionID string, event *paymentdomain.Event, log *zap.Logger) bool {
	stale, err := e.events.IsStale(ctx, subscriptionID, event.Created)
	if err != nil {
		log.Warn("staleness lookup failed, processing anyway", zap.Error(err))
		return false
	}
	return stale
}

func (e *Engine) dispatch(ctx context.Context, event *paymentdomain.Event) error {
	switch event.Type {
	case paymentdomain.EventInvoicePaymentSucceeded:
		return e.handleInvoicePaid(ctx, event.Invoice)
	case paymentdomain.EventInvoicePaymentFailed:
		return e.handleInvoiceFailed(ctx, event.Invoice)
	case paymentdomain.EventSubscriptionCreated, paymentdomain.EventSubscriptionUpdated:
		return e.handleSubscriptionStatus(ctx, event.Subscription)
	case paymentdomain.EventSubscriptionDeleted:
		return e.coordinator.ConfirmCancel(ctx, event.Subscription.ID)
	case paymentdomain.EventPaymentIntentSucceeded:
		return e.handlePaymentIntent(ctx, event.PaymentIntent)
	}
	return nil
}

func (e *Engine) handleInvoicePaid(ctx context.Context, invoice *paymentdomain.InvoiceObject) error {
	if invoice.SubscriptionID == "" {
		return nil
	}

	switch invoice.BillingReason {
	case paymentdomain.BillingReasonSubscriptionCreate:
		sub, err := e.gateway.RetrieveSubscription(ctx, invoice.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.Metadata[gateway.MetadataIsUpgrade] == "true" {
			if err := e.coordinator.ConfirmUpgrade(ctx, sub); err != nil {
				return err
			}
		} else {
			if err := e.coordinator.ConfirmCreate(ctx, sub); err != nil {
				return err
			}
		}
		return e.logSubscriptionInvoice(ctx, invoice, sub.Metadata)
	case paymentdomain.BillingReasonSubscriptionUpdate:
		err := e.coordinator.ConfirmLegacyUpgrade(ctx, invoice.SubscriptionID)
		if errors.Is(err, subscriptiondomain.ErrPendingUpgradeNotFound) {
			// Plan changes we did not initiate settle without a pending
			// record; nothing to apply.
			e.log.Debug("subscription update without pending upgrade",
				zap.String("subscription_id", invoice.SubscriptionID),
			)
			return e.logSubscriptionInvoice(ctx, invoice, nil)
		}
		if err != nil {
			return err
		}
		return e.logSubscriptionInvoice(ctx, invoice, nil)
	case paymentdomain.BillingReasonSubscriptionCycle:
		if err := e.coordinator.GrantCycle(ctx, invoice.SubscriptionID); err != nil {
			return err
		}
		return e.logSubscriptionInvoice(ctx, invoice, nil)
	}
	return nil
}

func (e *Engine) handleInvoiceFailed(ctx context.Context, invoice *paymentdomain.InvoiceObject) error {
	if invoice.SubscriptionID == "" {
		return nil
	}

	sub, err := e.gateway.RetrieveSubscription(ctx, invoice.SubscriptionID)
	if err == nil && sub.Metadata[gateway.MetadataIsUpgrade] == "true" {
		return e.coordinator.AbortUpgrade(ctx, sub)
	}

	if invoice.BillingReason == paymentdomain.BillingReasonSubscriptionCreate {
		return e.coordinator.CleanupFailedInitial(ctx, invoice.SubscriptionID)
	}
	return e.coordinator.MarkPastDue(ctx, invoice.SubscriptionID)
}

// handleSubscriptionStatus tracks provider-side state changes that arrive
// outside the invoice flow. Active and pending-update events are skipped;
// their invoice events carry the authoritative transition.
func (e *Engine) handleSubscriptionStatus(ctx context.Context, sub *paymentdomain.SubscriptionObject) error {
	if sub.Status == "active" || sub.HasPendingUpdate {
		return nil
	}
	switch sub.Status {
	case "past_due", "unpaid":
		return e.coordinator.MarkPastDue(ctx, sub.ID)
	}
	return nil
}

func (e *Engine) handlePaymentIntent(ctx context.Context, intent *paymentdomain.PaymentIntentObject) error {
	// Subscription invoices settle through invoice events.
	if intent.InvoiceID != "" || strings.Contains(strings.ToLower(intent.Description), "subscription") {
		return nil
	}

	userID := intent.Metadata[gateway.MetadataUserID]
	credits, err := strconv.ParseInt(intent.Metadata[gateway.MetadataCredits], 10, 64)
	if userID == "" || err != nil || credits <= 0 || intent.AmountReceived <= 0 {
		e.log.Debug("payment intent without verified purchase skipped",
			zap.String("payment_intent_id", intent.ID),
		)
		return nil
	}

	searchAmount := e.pricing.Get().SearchCreditsFor(credits)
	if _, err := e.accounts.AddPurchasedCredits(ctx, userID, credits, searchAmount); err != nil {
		return err
	}

	return e.invoices.Record(ctx, &invoicelogdomain.InvoiceRecord{
		UserID:            userID,
		Kind:              invoicelogdomain.KindCreditPurchase,
		ProviderInvoiceID: intent.ID,
		Credits:           credits,
		AmountMinorUnits:  intent.AmountReceived,
		Currency:          strings.ToUpper(intent.Currency),
	})
}

func (e *Engine) logSubscriptionInvoice(ctx context.Context, invoice *paymentdomain.InvoiceObject, metadata map[string]string) error {
	record := &invoicelogdomain.InvoiceRecord{
		Kind:              invoicelogdomain.KindSubscriptionInvoice,
		ProviderInvoiceID: invoice.ID,
		SubscriptionID:    invoice.SubscriptionID,
		AmountMinorUnits:  invoice.AmountPaid,
		Currency:          strings.ToUpper(invoice.Currency),
	}
	if metadata != nil {
		record.UserID = metadata[gateway.MetadataUserID]
		record.TierID = metadata[gateway.MetadataTierID]
		if credits, err := strconv.ParseInt(metadata[gateway.MetadataCredits], 10, 64); err == nil {
			record.Credits = credits
		}
	}
	return e.invoices.Record(ctx, record)
}
