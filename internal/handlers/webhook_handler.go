package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
	"github.com/akylbek/payment-system/federation-payments/internal/webhook"
)

const maxWebhookBody = 1 << 20

// WebhookProcessor is satisfied by *webhook.Processor.
type WebhookProcessor interface {
	Handle(ctx context.Context, source string, headers http.Header, raw []byte) (webhook.Result, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	source := c.Param("provider")

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "could not read body"})
		return
	}
	// A truncated body would fail verification for the wrong reason.
	if len(raw) > maxWebhookBody {
		telemetry.Logger.Warn("Webhook body too large", zap.String("source", source))
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "payload too large"})
		return
	}

	res, err := h.processor.Handle(c.Request.Context(), source, c.Request.Header, raw)
	if err != nil {
		var verr *models.VerificationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusUnauthorized, gin.H{
				"success":           false,
				"error":             "invalid signature",
				"receivedSignature": webhook.ExtractSignature(c.Request.Header, raw),
			})
		case errors.Is(err, webhook.ErrUnknownSource):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown webhook source"})
		default:
			telemetry.Logger.Error("Webhook processing failed",
				zap.String("source", source),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"eventId":   res.EventID,
		"duplicate": res.Duplicate,
	})
}

func (h *WebhookHandler) Options(c *gin.Context) {
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Status(http.StatusNoContent)
}
