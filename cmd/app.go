package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/cache"
	"github.com/akylbek/payment-system/federation-payments/internal/config"
	"github.com/akylbek/payment-system/federation-payments/internal/events"
	"github.com/akylbek/payment-system/federation-payments/internal/gateway"
	"github.com/akylbek/payment-system/federation-payments/internal/interfaces"
	"github.com/akylbek/payment-system/federation-payments/internal/queue"
	"github.com/akylbek/payment-system/federation-payments/internal/registry"
	"github.com/akylbek/payment-system/federation-payments/internal/repository"
	"github.com/akylbek/payment-system/federation-payments/internal/service"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const serviceName = "federation-payments"

// app holds the components shared by every command. Empty connection
// strings fall back to in-process implementations so a single binary runs
// without infrastructure.
type app struct {
	cfg           *config.Config
	registry      *registry.Registry
	adapters      gateway.Set
	messaging     *gateway.Messaging
	repo          interfaces.TransactionRepository
	registrations interfaces.RegistrationLookup
	audit         interfaces.AuditRepository
	locker        interfaces.Locker
	ledger        *service.Ledger
	notifier      *service.Notifier
	queue         *queue.NotificationQueue

	closers []func()
}

func loadConfig() (*config.Config, error) {
	config.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := telemetry.InitTelemetry(serviceName, cfg.JaegerEndpoint); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return cfg, nil
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	configs, err := config.LoadGateways(cfg.GatewaysFile, config.EnvLookup)
	if err != nil {
		return nil, err
	}
	reg := registry.New(configs, cfg.Sandbox)
	for _, err := range reg.Validate() {
		telemetry.Logger.Warn("Gateway misconfigured", zap.Error(err))
	}
	return reg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	hc := &http.Client{Timeout: cfg.GatewayTimeout}
	a.adapters = gateway.NewAdapters(reg, hc)
	a.messaging = gateway.NewMessaging(gateway.MessagingConfig{
		BaseURL:  cfg.Messaging.BaseURL,
		Instance: cfg.Messaging.Instance,
		APIKey:   cfg.Messaging.APIKey,
	}, hc)
	if cfg.Messaging.BaseURL == "" {
		telemetry.Logger.Warn("MESSAGING_BASE_URL not set, payer notifications will not be delivered")
	}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var publisher interfaces.EventPublisher = events.LogPublisher{}
	if cfg.KafkaBrokers != "" {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers))
		a.closers = append(a.closers, func() { kp.Close() })
		publisher = kp
	} else {
		telemetry.Logger.Warn("KAFKA_BROKERS not set, state changes are only logged")
	}
	a.ledger = service.NewLedger(a.repo, a.adapters, a.locker, publisher)

	if err := a.openQueue(); err != nil {
		a.Close()
		return nil, err
	}
	a.ledger.SetNotifier(a.notifier)
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		telemetry.Logger.Warn("DATABASE_URL not set, using in-memory storage")
		a.repo = repository.NewMemoryTransactionRepository()
		a.registrations = repository.NewMemoryRegistrationStore()
		a.audit = repository.NewMemoryAuditRepository()
		return nil
	}

	db, err := sql.Open("postgres", a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, func() { db.Close() })
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	txRepo := repository.NewTransactionRepository(db)
	if err := txRepo.InitDB(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	auditRepo := repository.NewAuditRepository(db)
	if err := auditRepo.InitDB(); err != nil {
		return fmt.Errorf("failed to initialize audit tables: %w", err)
	}
	a.repo = txRepo
	a.audit = auditRepo
	a.registrations = repository.NewRegistrationRepository(db)
	return nil
}

func (a *app) openLocker(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		telemetry.Logger.Warn("REDIS_URL not set, using in-process locks")
		a.locker = cache.NewMemoryLocker()
		return nil
	}

	opts := &redis.Options{Addr: a.cfg.RedisURL}
	if strings.Contains(a.cfg.RedisURL, "://") {
		parsed, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func() { client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.locker = cache.NewRedisLocker(client)
	return nil
}

func (a *app) openQueue() error {
	if a.cfg.NatsURL == "" {
		telemetry.Logger.Warn("NATS_URL not set, notifications are delivered inline")
		inline := &queue.Inline{}
		a.notifier = service.NewNotifier(inline, a.messaging)
		inline.Deliverer = a.notifier
		return nil
	}

	nc, err := nats.Connect(a.cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.closers = append(a.closers, nc.Close)
	q, err := queue.NewNotificationQueue(nc)
	if err != nil {
		return err
	}
	a.queue = q
	a.notifier = service.NewNotifier(q, a.messaging)
	return nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
