package handler

import (
	"net/http"
	"strconv"

	"capway/pkg/logger"
	"capway/pkg/store/mysql"

	"github.com/gin-gonic/gin"
)

// AuditHandler exposes recent audit records
type AuditHandler struct {
	audit *mysql.AuditRepository
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit *mysql.AuditRepository) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// RecentDenials lists the newest policy denials and SLO rejections
func (h *AuditHandler) RecentDenials(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	rows, err := h.audit.RecentDenials(c.Request.Context(), limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to query recent denials: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"denials": rows})
}
