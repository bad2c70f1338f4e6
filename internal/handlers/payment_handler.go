package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/service"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

// PaymentService is satisfied by *service.Orchestrator.
type PaymentService interface {
	CreateCharge(ctx context.Context, cmd service.ChargeCommand) (*service.ChargeOutcome, error)
	RefundCharge(ctx context.Context, in service.RefundInput) (*models.Transaction, error)
}

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type createPaymentRequest struct {
	EntityType    string          `json:"entityType" binding:"required"`
	EntityID      string          `json:"entityId" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod" binding:"required"`
	Payer         *models.Payer   `json:"payer"`
	CardToken     string          `json:"cardToken"`
	Description   string          `json:"description"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
	By     string           `json:"by"`
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Warn("Error decoding payment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	outcome, err := h.payments.CreateCharge(c.Request.Context(), service.ChargeCommand{
		Entity: models.EntityRef{
			Kind: models.EntityKind(strings.ToUpper(req.EntityType)),
			ID:   req.EntityID,
		},
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      models.PaymentMethod(strings.ToUpper(req.PaymentMethod)),
		Payer:       req.Payer,
		CardToken:   req.CardToken,
		Description: req.Description,
	})
	if err != nil {
		telemetry.Logger.Error("Error creating payment",
			zap.String("entity_type", req.EntityType),
			zap.String("entity_id", req.EntityID),
			zap.Error(err),
		)
		status, msg := chargeErrorResponse(err)
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":         true,
		"transactionId":   outcome.TransactionID,
		"protocol":        outcome.Protocol,
		"externalId":      outcome.ExternalID,
		"status":          outcome.Status,
		"checkoutPayload": outcome.Checkout,
	})
}

func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	id := c.Param("id")

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.By) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "by is required"})
		return
	}

	tx, err := h.payments.RefundCharge(c.Request.Context(), service.RefundInput{
		TransactionID: id,
		Amount:        req.Amount,
		Reason:        req.Reason,
		By:            req.By,
	})
	if err != nil {
		telemetry.Logger.Error("Error refunding payment",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		status, msg := refundErrorResponse(err)
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": tx})
}

func chargeErrorResponse(err error) (int, string) {
	var (
		cfgErr     *models.ConfigurationError
		adapterErr *models.AdapterError
	)
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid payment request"
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, "payment method unavailable"
	case errors.As(err, &adapterErr):
		return http.StatusBadGateway, "payment method unavailable"
	default:
		return http.StatusInternalServerError, "failed to create payment"
	}
}

func refundErrorResponse(err error) (int, string) {
	var (
		transitionErr *models.InvalidTransitionError
		adapterErr    *models.AdapterError
		cfgErr        *models.ConfigurationError
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "payment not found"
	case errors.Is(err, models.ErrRefundInProgress):
		return http.StatusConflict, "refund already in progress"
	case errors.As(err, &transitionErr):
		return http.StatusConflict, "payment cannot be refunded in its current state"
	case errors.Is(err, models.ErrRefundAmount), errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid refund amount"
	case errors.As(err, &adapterErr), errors.As(err, &cfgErr):
		return http.StatusBadGateway, "could not process refund, try again"
	default:
		return http.StatusInternalServerError, "failed to refund payment"
	}
}
