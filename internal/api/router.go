package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/federation-payments/internal/handlers"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const serviceName = "federation-payments"

func NewRouter(payments handlers.PaymentService, ledger handlers.TransactionReader, webhooks handlers.WebhookProcessor) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})

	// Payment routes
	paymentHandler := handlers.NewPaymentHandler(payments)
	r.POST("/payments", paymentHandler.CreatePayment)
	r.POST("/payments/:id/refund", paymentHandler.RefundPayment)
	r.GET("/payments/:id/state", handlers.NewPaymentStateHandler(ledger).GetPaymentState)

	// Provider and messaging callbacks
	webhookHandler := handlers.NewWebhookHandler(webhooks)
	r.POST("/webhooks/:provider", webhookHandler.Receive)
	r.OPTIONS("/webhooks/:provider", webhookHandler.Options)

	return r
}
