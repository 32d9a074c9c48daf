package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "bimoi/backend/pkg/errors"
)

// respondError maps a core error onto a status code and body
func (h *Handler) respondError(c *gin.Context, action string, err error) {
	if dup, ok := apperrors.AsDuplicate(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":               string(apperrors.ErrorTypeDuplicate),
			"existing_contact_id": dup.ExistingContactID,
			"existing_name":       dup.ExistingName,
			"matched_on":          dup.MatchedOn,
		})
		return
	}

	var noFlow *apperrors.ErrNoPendingFlow
	if stderrors.As(err, &noFlow) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_pending_flow",
			"message": "no card is waiting for context",
		})
		return
	}
	if v, ok := apperrors.AsValidation(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  string(apperrors.ErrorTypeValidation),
			"field":  v.Field,
			"reason": v.Reason,
		})
		return
	}

	kind, _ := apperrors.TypeOf(err)
	switch kind {
	case apperrors.ErrorTypeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": string(kind), "message": "not found"})
	case apperrors.ErrorTypeStorage, apperrors.ErrorTypeIdentity, apperrors.ErrorTypeContext:
		h.logger.Warn("Request failed on store", zap.String("action", action), zap.Error(err))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     string(apperrors.ErrorTypeStorage),
			"message":   "temporarily unavailable, retry",
			"retryable": true,
		})
	default:
		h.logger.Error("Failed to "+action, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Failed to " + action})
	}
}
