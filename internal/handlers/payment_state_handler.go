package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/protocol"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

// TransactionReader is satisfied by *service.Ledger.
type TransactionReader interface {
	Get(ctx context.Context, id string) (*models.Transaction, error)
	GetByProtocol(ctx context.Context, protocol string) (*models.Transaction, error)
}

type PaymentStateHandler struct {
	ledger TransactionReader
}

func NewPaymentStateHandler(ledger TransactionReader) *PaymentStateHandler {
	return &PaymentStateHandler{ledger: ledger}
}

// GetPaymentState accepts either a transaction id or a protocol.
func (h *PaymentStateHandler) GetPaymentState(c *gin.Context) {
	key := c.Param("id")

	tx, err := h.lookup(c.Request.Context(), key)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment state not found"})
		return
	}
	if err != nil {
		telemetry.Logger.Error("Failed to fetch payment state", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payment state"})
		return
	}

	body := gin.H{
		"transactionId": tx.ID,
		"protocol":      tx.Protocol,
		"provider":      tx.Provider,
		"paymentMethod": tx.PaymentMethod,
		"status":        tx.Status,
		"amount":        tx.Amount,
		"currency":      tx.Currency,
		"externalId":    tx.ExternalRef(),
		"entity":        tx.Entity,
		"createdAt":     tx.CreatedAt,
		"updatedAt":     tx.UpdatedAt,
	}
	if refund, ok := tx.Metadata[models.MetaRefund]; ok {
		body["refund"] = refund
	}
	c.JSON(http.StatusOK, body)
}

func (h *PaymentStateHandler) lookup(ctx context.Context, key string) (*models.Transaction, error) {
	if protocol.IsProtocol(key) {
		return h.ledger.GetByProtocol(ctx, key)
	}
	if _, err := uuid.Parse(key); err != nil {
		return nil, models.ErrNotFound
	}
	return h.ledger.Get(ctx, key)
}
