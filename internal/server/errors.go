package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/searchleads/billing/internal/account/domain"
	gatewaydomain "github.com/searchleads/billing/internal/gateway"
	paymentdomain "github.com/searchleads/billing/internal/payment/domain"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	tierdomain "github.com/searchleads/billing/internal/tier/domain"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

type errorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Requested int64  `json:"requested,omitempty"`
	Available int64  `json:"available,omitempty"`
	Shortfall int64  `json:"shortfall,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var insufficient *accountdomain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_credits",
			Message:   insufficient.Error(),
			Requested: insufficient.Requested,
			Available: insufficient.Available,
			Shortfall: insufficient.Shortfall,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, accountdomain.ErrInvalidAmount):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{Type: "invalid_signature", Message: "webhook signature verification failed"}
	case errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, accountdomain.ErrUsageLogNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, tierdomain.ErrTierNotFound),
		errors.Is(err, gatewaydomain.ErrCouponNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	case errors.Is(err, accountdomain.ErrAccountExists),
		errors.Is(err, accountdomain.ErrRefundAlreadyApplied),
		errors.Is(err, subscriptiondomain.ErrAlreadySubscribed),
		errors.Is(err, subscriptiondomain.ErrSameTier),
		errors.Is(err, subscriptiondomain.ErrNoActiveSubscription):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case errors.Is(err, subscriptiondomain.ErrUpgradeInProgress):
		return http.StatusConflict, errorPayload{Type: "upgrade_in_progress", Message: err.Error()}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, tierdomain.ErrTierCatalogUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: err.Error()}
	case errors.Is(err, accountdomain.ErrConcurrentUpdate):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
