package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
)

func (s *Server) SubscriptionStatus(c *gin.Context) {
	record, err := s.coordinator.Status(c.Request.Context(), c.Param("user_id"))
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": subscriptiondomain.StatusNone})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":               record.Status,
		"tier_id":              record.PlanTierID,
		"credits":              record.PlanCredits,
		"current_period_end":   record.CurrentPeriodEnd,
		"cancel_at_period_end": record.CancelAtPeriodEnd,
		"upgrade_in_progress":  record.UpgradeLocked,
	})
}

type createSubscriptionRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	CustomerID string `json:"customer_id" binding:"required"`
	TierID     string `json:"tier_id" binding:"required"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	intent, err := s.coordinator.RequestCreate(c.Request.Context(), req.UserID, req.CustomerID, req.TierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, checkoutResponse(intent))
}

type upgradeSubscriptionRequest struct {
	TierID string `json:"tier_id" binding:"required"`
}

func (s *Server) UpgradeSubscription(c *gin.Context) {
	var req upgradeSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	intent, err := s.coordinator.RequestUpgrade(c.Request.Context(), c.Param("user_id"), req.TierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, checkoutResponse(intent))
}

func (s *Server) CancelSubscription(c *gin.Context) {
	if err := s.coordinator.RequestCancel(c.Request.Context(), c.Param("user_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancel_at_period_end": true})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	if err := s.coordinator.Resume(c.Request.Context(), c.Param("user_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancel_at_period_end": false})
}

func checkoutResponse(intent *subscriptiondomain.CheckoutIntent) gin.H {
	return gin.H{
		"subscription_id":   intent.SubscriptionID,
		"invoice_id":        intent.InvoiceID,
		"payment_intent_id": intent.PaymentIntentID,
		"client_secret":     intent.ClientSecret,
		"amount_due":        intent.AmountDue,
	}
}
