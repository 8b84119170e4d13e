package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBody = 1 << 20

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	outcome, err := s.engineSvc.HandleWebhook(
		c.Request.Context(),
		payload,
		c.GetHeader("Stripe-Signature"),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
