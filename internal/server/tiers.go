package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListTiers(c *gin.Context) {
	catalog, err := s.tiers.GetTiers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, catalog)
}

func (s *Server) RefreshTiers(c *gin.Context) {
	catalog, err := s.tiers.Refresh(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, catalog)
}
