package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
)

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindComposition:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindCancelled:
		return http.StatusConflict
	case apperr.KindProbe:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status of its kind. Internal details of
// server errors are logged but not returned.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error(), "kind": apperr.KindOf(err)}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		body["error"] = msg
	}
	c.JSON(status, body)
}
