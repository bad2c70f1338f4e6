package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/api"
	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/queue"
	"github.com/akylbek/payment-system/federation-payments/internal/service"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
	"github.com/akylbek/payment-system/federation-payments/internal/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the payments HTTP API and the notification consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Federation Payments")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	orchestrator := service.NewOrchestrator(a.registry, a.adapters, a.ledger, service.OrchestratorConfig{
		GatewayTimeout: cfg.GatewayTimeout,
		MaxRetries:     cfg.ChargeMaxRetries,
	})
	processor := webhook.NewProcessor(
		a.audit,
		a.registry,
		a.adapters,
		a.ledger,
		a.messaging,
		models.WebhookSecrets{Secret: cfg.Messaging.WebhookSecret, APIKey: cfg.Messaging.APIKey},
	)

	if a.queue != nil {
		consumer := queue.NewConsumer(a.queue, a.notifier, queue.ConsumerConfig{
			MaxDeliver:    cfg.Messaging.RetryAttempts,
			RetryInterval: cfg.Messaging.RetryInterval,
		})
		if err := consumer.StartProcess(); err != nil {
			return err
		}
		defer consumer.Close()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(orchestrator, a.ledger, processor),
	}

	go func() {
		telemetry.Logger.Info("Federation Payments starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
	return nil
}
