package handler

import (
	"net/http"

	"capway/internal/slo"

	"github.com/gin-gonic/gin"
)

// SLOHandler exposes SLO compliance status
type SLOHandler struct {
	store *slo.Store
}

// NewSLOHandler creates a new SLO handler
func NewSLOHandler(store *slo.Store) *SLOHandler {
	return &SLOHandler{store: store}
}

// Status returns per-capability objective vs observed latency
func (h *SLOHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": h.store.Status()})
}
