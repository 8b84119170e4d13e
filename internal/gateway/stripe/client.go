package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/searchleads/billing/internal/gateway"
)

const apiBase = "https://api.stripe.com"

type stripeSubscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	LatestInvoice     *stripeInvoice    `json:"latest_invoice"`
}

type stripeInvoice struct {
	ID            string               `json:"id"`
	Subscription  string               `json:"subscription"`
	Customer      string               `json:"customer"`
	Status        string               `json:"status"`
	AmountDue     int64                `json:"amount_due"`
	AmountPaid    int64                `json:"amount_paid"`
	PaymentIntent *stripePaymentIntent `json:"payment_intent"`
}

type stripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type stripePriceList struct {
	Data []stripePrice `json:"data"`
}

type stripePrice struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Active     bool   `json:"active"`
	Recurring  *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
	Product *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"product"`
}

type stripeCoupon struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	PercentOff float64 `json:"percent_off"`
	AmountOff  int64   `json:"amount_off"`
	Valid      bool    `json:"valid"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a thin form-encoded Stripe REST client implementing
// gateway.Gateway. Only the endpoints the core consumes are wrapped.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: apiBase,
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

// NewClientWithBaseURL points the client at a test server.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) CreateSubscription(ctx context.Context, params gateway.CreateSubscriptionParams) (*gateway.Subscription, error) {
	values := url.Values{}
	values.Set("customer", params.CustomerID)
	values.Set("items[0][price]", params.PriceID)
	// Requires immediate payment; credits are only granted once the
	// provider confirms the first invoice.
	values.Set("payment_behavior", "default_incomplete")
	values.Add("expand[]", "latest_invoice.payment_intent")
	for key, value := range params.Metadata {
		values.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	var sub stripeSubscription
	if err := c.doRequest(ctx, http.MethodPost, "/v1/subscriptions", values, &sub); err != nil {
		return nil, err
	}
	return toGatewaySubscription(&sub), nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	var sub stripeSubscription
	if err := c.doRequest(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, err
	}
	return toGatewaySubscription(&sub), nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	var sub stripeSubscription
	return c.doRequest(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(id), nil, &sub)
}

func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*gateway.Subscription, error) {
	values := url.Values{}
	if cancel {
		values.Set("cancel_at_period_end", "true")
	} else {
		values.Set("cancel_at_period_end", "false")
	}

	var sub stripeSubscription
	if err := c.doRequest(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(id), values, &sub); err != nil {
		return nil, err
	}
	return toGatewaySubscription(&sub), nil
}

func (c *Client) ListPrices(ctx context.Context) ([]gateway.Price, error) {
	values := url.Values{}
	values.Set("active", "true")
	values.Set("type", "recurring")
	values.Set("limit", "50")
	values.Add("expand[]", "data.product")

	var list stripePriceList
	path := "/v1/prices?" + values.Encode()
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	prices := make([]gateway.Price, 0, len(list.Data))
	for _, price := range list.Data {
		converted := gateway.Price{
			ID:         price.ID,
			UnitAmount: price.UnitAmount,
			Currency:   strings.ToUpper(price.Currency),
			Active:     price.Active,
		}
		if price.Recurring != nil {
			converted.Recurring = true
			converted.Interval = price.Recurring.Interval
		}
		if price.Product != nil {
			converted.ProductID = price.Product.ID
			converted.ProductName = price.Product.Name
		}
		prices = append(prices, converted)
	}
	return prices, nil
}

func (c *Client) RetrieveCoupon(ctx context.Context, code string) (*gateway.Coupon, error) {
	var coupon stripeCoupon
	if err := c.doRequest(ctx, http.MethodGet, "/v1/coupons/"+url.PathEscape(code), nil, &coupon); err != nil {
		return nil, err
	}
	return &gateway.Coupon{
		ID:         coupon.ID,
		Name:       coupon.Name,
		PercentOff: coupon.PercentOff,
		AmountOff:  coupon.AmountOff,
		Valid:      coupon.Valid,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, values url.Values, out any) error {
	if c.apiKey == "" {
		return gateway.ErrInvalidConfig
	}

	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrCallFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&stripeErr)
		if resp.StatusCode == http.StatusNotFound {
			if strings.HasPrefix(path, "/v1/coupons/") {
				return gateway.ErrCouponNotFound
			}
			return gateway.ErrSubscriptionNotFound
		}
		return fmt.Errorf("%w: %s (status %d)", gateway.ErrCallFailed, stripeErr.Error.Message, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func toGatewaySubscription(sub *stripeSubscription) *gateway.Subscription {
	converted := &gateway.Subscription{
		ID:                sub.ID,
		CustomerID:        sub.Customer,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.CurrentPeriodEnd > 0 {
		converted.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.LatestInvoice != nil {
		invoice := &gateway.Invoice{
			ID:             sub.LatestInvoice.ID,
			SubscriptionID: sub.LatestInvoice.Subscription,
			CustomerID:     sub.LatestInvoice.Customer,
			Status:         sub.LatestInvoice.Status,
			AmountDue:      sub.LatestInvoice.AmountDue,
			AmountPaid:     sub.LatestInvoice.AmountPaid,
		}
		if sub.LatestInvoice.PaymentIntent != nil {
			invoice.PaymentIntentID = sub.LatestInvoice.PaymentIntent.ID
			invoice.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
		}
		converted.LatestInvoice = invoice
	}
	return converted
}
