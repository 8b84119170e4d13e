package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) BillingHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.invoices.History(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": records})
}

// RetrieveCoupon proxies coupon lookups to the provider behind a per-caller
// fixed window so the endpoint cannot be used to enumerate codes.
func (s *Server) RetrieveCoupon(c *gin.Context) {
	caller := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if caller == "" {
		caller = c.ClientIP()
	}

	window := time.Duration(s.cfg.CouponRateLimitWindowSeconds) * time.Second
	if !s.limiter.Allow(c.Request.Context(), "coupon", caller, s.cfg.CouponRateLimitMax, window) {
		s.metrics.RecordRateLimitDenied("coupon")
		AbortWithError(c, ErrRateLimited)
		return
	}

	coupon, err := s.gateway.RetrieveCoupon(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          coupon.ID,
		"name":        coupon.Name,
		"percent_off": coupon.PercentOff,
		"amount_off":  coupon.AmountOff,
		"valid":       coupon.Valid,
	})
}

// PricingQuote computes the charge for a pay-as-you-go credit purchase.
func (s *Server) PricingQuote(c *gin.Context) {
	credits, err := strconv.ParseInt(c.Query("credits"), 10, 64)
	if err != nil || credits <= 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	currency := strings.ToUpper(c.DefaultQuery("currency", "USD"))

	pricing := s.pricing.Get()
	amount, ok := pricing.AmountMinorUnits(credits, currency)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credits":            credits,
		"currency":           currency,
		"amount_minor_units": amount,
		"search_credits":     pricing.SearchCreditsFor(credits),
	})
}
