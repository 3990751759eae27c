package handler

import (
	"net/http"

	"capway/app/middleware"
	"capway/internal/cperr"
	"capway/internal/dispatch"
	"capway/internal/model"
	"capway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// InvokeHandler handles capability invocation requests
type InvokeHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewInvokeHandler creates a new invoke handler
func NewInvokeHandler(dispatcher *dispatch.Dispatcher) *InvokeHandler {
	return &InvokeHandler{dispatcher: dispatcher}
}

// Invoke routes a capability invocation to a worker
// @Summary Invoke a capability
// @Description Routes the request to a healthy worker after policy and SLO checks
// @Tags invoke
// @Accept json
// @Produce json
// @Success 200 {object} model.InvokeResponse
// @Router /v1/invoke [post]
func (h *InvokeHandler) Invoke(c *gin.Context) {
	var req model.InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if !req.Priority.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "priority must be \"normal\" or \"low\""})
		return
	}

	resp, err := h.dispatcher.Handle(c.Request.Context(), &dispatch.Request{
		Identity:       middleware.CallerIdentity(c),
		Verb:           req.Verb,
		Capability:     req.Capability,
		IdempotencyKey: req.IdempotencyKey,
		Priority:       req.Priority,
		Payload:        req.Payload,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}

	if resp.IdempotentReplay {
		c.Header("X-Idempotent-Replay", "true")
	}
	c.JSON(http.StatusOK, resp)
}

// writeDispatchError maps the error taxonomy to HTTP statuses, keeping the
// stable kind in the body so clients can branch on it.
func writeDispatchError(c *gin.Context, err error) {
	kind := cperr.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case cperr.KindCapabilityAccessDenied, cperr.KindPolicyEngineUnavailable:
		status = http.StatusForbidden
	case cperr.KindNoWorkerAvailable:
		status = http.StatusServiceUnavailable
	case cperr.KindSLORejected:
		status = http.StatusTooManyRequests
	case cperr.KindWorkerInvocationFailed:
		status = http.StatusBadGateway
	case cperr.KindRequestInFlight:
		status = http.StatusConflict
	default:
		logger.ErrorCtx(c.Request.Context(), "unclassified dispatch error: %v", err)
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"kind":    string(kind),
			"message": err.Error(),
		},
	})
}
