package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/webhook"
)

type callback struct {
	dispatcher *webhook.Dispatcher
	logger     *zap.Logger
}

func (cb *callback) handle(c *gin.Context) {
	var ev webhook.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "msg": "malformed event"})
		return
	}

	msg, err := cb.dispatcher.Dispatch(c.Request.Context(), ev)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"code": "success", "msg": msg})
	case errors.Is(err, webhook.ErrBadSignature):
		cb.logger.Warn("subscription event rejected", zap.String("topic", ev.Topic))
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_signature", "msg": "signature mismatch"})
	case errors.Is(err, webhook.ErrNoRoute):
		cb.logger.Warn("subscription event unrouted",
			zap.String("topic", ev.Topic),
			zap.String("operation", ev.Operation))
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "msg": "no handler for topic and operation"})
	default:
		cb.logger.Error("subscription event failed", zap.String("topic", ev.Topic), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "error", "msg": "event processing failed"})
	}
}
