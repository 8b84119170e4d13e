package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider event types the engine reacts to. Everything else is ignored.
const (
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
)

// Billing reasons on invoice events.
const (
	BillingReasonSubscriptionCreate = "subscription_create"
	BillingReasonSubscriptionUpdate = "subscription_update"
	BillingReasonSubscriptionCycle  = "subscription_cycle"
)

// Event is a provider webhook event after envelope parsing. Exactly one of
// Invoice, Subscription, PaymentIntent is populated, matching Type.
type Event struct {
	ID      string
	Type    string
	Created time.Time

	Invoice       *InvoiceObject
	Subscription  *SubscriptionObject
	PaymentIntent *PaymentIntentObject
}

// SubscriptionID returns the provider subscription id the event concerns,
// or "" when the event carries none.
func (e *Event) SubscriptionID() string {
	switch {
	case e.Invoice != nil:
		return e.Invoice.SubscriptionID
	case e.Subscription != nil:
		return e.Subscription.ID
	}
	return ""
}

type InvoiceObject struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	BillingReason  string
	Status         string
	AmountPaid     int64
	AmountDue      int64
	Currency       string
}

type SubscriptionObject struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	Metadata          map[string]string
	HasPendingUpdate  bool
}

type PaymentIntentObject struct {
	ID             string
	Description    string
	InvoiceID      string
	AmountReceived int64
	Currency       string
	Metadata       map[string]string
}

type stripeEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeInvoiceObject struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	Customer      string `json:"customer"`
	BillingReason string `json:"billing_reason"`
	Status        string `json:"status"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
}

type stripeSubscriptionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	PendingUpdate     json.RawMessage   `json:"pending_update"`
}

type stripePaymentIntentObject struct {
	ID             string            `json:"id"`
	Description    string            `json:"description"`
	Invoice        string            `json:"invoice"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// ParseEvent decodes a webhook payload into an Event. Event types outside
// the handled set return ErrEventIgnored; the raw id is still surfaced so
// ignored events can be marked processed.
func ParseEvent(payload []byte) (*Event, error) {
	var envelope stripeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, ErrInvalidEvent
	}

	event := &Event{
		ID:      envelope.ID,
		Type:    strings.TrimSpace(envelope.Type),
		Created: time.Unix(envelope.Created, 0).UTC(),
	}

	switch event.Type {
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var obj stripeInvoiceObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrInvalidPayload
		}
		event.Invoice = &InvoiceObject{
			ID:             obj.ID,
			SubscriptionID: obj.Subscription,
			CustomerID:     obj.Customer,
			BillingReason:  obj.BillingReason,
			Status:         obj.Status,
			AmountPaid:     obj.AmountPaid,
			AmountDue:      obj.AmountDue,
			Currency:       obj.Currency,
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var obj stripeSubscriptionObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrInvalidPayload
		}
		sub := &SubscriptionObject{
			ID:                obj.ID,
			CustomerID:        obj.Customer,
			Status:            obj.Status,
			CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
			Metadata:          obj.Metadata,
			HasPendingUpdate:  len(obj.PendingUpdate) > 0 && string(obj.PendingUpdate) != "null",
		}
		if obj.CurrentPeriodEnd > 0 {
			sub.CurrentPeriodEnd = time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		}
		event.Subscription = sub
	case EventPaymentIntentSucceeded:
		var obj stripePaymentIntentObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrInvalidPayload
		}
		event.PaymentIntent = &PaymentIntentObject{
			ID:             obj.ID,
			Description:    obj.Description,
			InvoiceID:      obj.Invoice,
			AmountReceived: obj.AmountReceived,
			Currency:       obj.Currency,
			Metadata:       obj.Metadata,
		}
	default:
		return event, ErrEventIgnored
	}

	return event, nil
}
