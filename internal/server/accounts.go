package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	accountdomain "github.com/searchleads/billing/internal/account/domain"
)

type createAccountRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.accounts.CreateAccount(c.Request.Context(), req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user_id":           account.UserID,
		"purchased_credits": account.PurchasedCredits,
		"search_credits":    account.SearchCredits,
	})
}

func (s *Server) GetBalances(c *gin.Context) {
	balances, err := s.accounts.GetBalances(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

type deductRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Pool   string `json:"pool"`
}

func (s *Server) Deduct(c *gin.Context) {
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	pool := accountdomain.Pool(strings.TrimSpace(req.Pool))
	if pool == "" {
		pool = accountdomain.PoolCombined
	}

	balances, err := s.accounts.Deduct(c.Request.Context(), c.Param("user_id"), req.Amount, pool)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

type reserveRequest struct {
	LogID  string `json:"log_id"`
	Amount int64  `json:"amount" binding:"required"`
}

func (s *Server) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	logID := strings.TrimSpace(req.LogID)
	if logID == "" {
		logID = uuid.NewString()
	}

	balances, err := s.accounts.Reserve(c.Request.Context(), c.Param("user_id"), logID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"log_id":   logID,
		"balances": balances,
	})
}

type refundRequest struct {
	LogID      string `json:"log_id" binding:"required"`
	ActualUsed int64  `json:"actual_used"`
}

func (s *Server) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.accounts.Refund(c.Request.Context(), c.Param("user_id"), req.LogID, req.ActualUsed)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"log_id":   result.LogID,
		"refunded": result.Refunded,
		"balances": result.Balances,
	})
}
