package httpapi

import (
	"errors"
	"net/http"

	"callpilot/internal/calls"
	"callpilot/internal/orchestrator"
	"callpilot/internal/reporting"
	"callpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to status codes. Storage and unknown errors
// are logged and hidden behind a generic message.
func writeError(c *gin.Context, err error) {
	var verr *calls.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid call request", "details": verr.Fields})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, orchestrator.ErrNotTerminable), errors.Is(err, calls.ErrStatusConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrShuttingDown):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
	default:
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
