package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/talksphere/internal/chat"
	"github.com/lalith-99/talksphere/internal/models"
	"go.uber.org/zap"
)

// respondError maps chat errors to HTTP statuses. Anything unrecognized is
// logged and reported as a 500 with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error, op string) {
	switch {
	case errors.Is(err, chat.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrGroupExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

// degradedResponse is returned with 202 when a message was stored but not
// published for live delivery.
type degradedResponse struct {
	Message       *models.Message `json:"message"`
	DeliveryError string          `json:"delivery_error"`
}
