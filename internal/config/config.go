package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type MessagingConfig struct {
	BaseURL       string
	Instance      string
	APIKey        string
	WebhookSecret string
	RetryAttempts int
	RetryInterval time.Duration
}

type Config struct {
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	NatsURL        string
	JaegerEndpoint string
	Port           string

	GatewaysFile     string
	Sandbox          bool
	GatewayTimeout   time.Duration
	ChargeMaxRetries int

	PendingExpiry       time.Duration
	ReconcileQueryAfter time.Duration
	ReconcileBatchSize  int

	Messaging MessagingConfig
}

// Env holds values read from a .env file. They take precedence over the
// process environment.
var Env map[string]string

// SetupEnvFile loads the first readable .env file. A missing file is not an
// error; containers configure through the process environment.
func SetupEnvFile(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", "../.env", "../../.env"}
	}
	for _, p := range paths {
		if env, err := godotenv.Read(p); err == nil {
			Env = env
			return
		}
	}
}

func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// Load reads configuration from the environment. Empty connection strings
// select the in-process implementations.
func Load() (*Config, error) {
	p := parser{}
	cfg := &Config{
		DatabaseURL:    GetEnv("DATABASE_URL", ""),
		RedisURL:       GetEnv("REDIS_URL", ""),
		KafkaBrokers:   GetEnv("KAFKA_BROKERS", ""),
		NatsURL:        GetEnv("NATS_URL", ""),
		JaegerEndpoint: GetEnv("JAEGER_ENDPOINT", ""),
		Port:           GetEnv("PORT", "8082"),

		GatewaysFile:     GetEnv("GATEWAYS_FILE", "config/gateways.yaml"),
		Sandbox:          p.boolean("PAYMENTS_SANDBOX", false),
		GatewayTimeout:   p.duration("GATEWAY_TIMEOUT", 20*time.Second),
		ChargeMaxRetries: p.integer("CHARGE_MAX_RETRIES", 2),

		PendingExpiry:       p.duration("PENDING_EXPIRY", 24*time.Hour),
		ReconcileQueryAfter: p.duration("RECONCILE_QUERY_AFTER", 30*time.Minute),
		ReconcileBatchSize:  p.integer("RECONCILE_BATCH_SIZE", 200),

		Messaging: MessagingConfig{
			BaseURL:       GetEnv("MESSAGING_BASE_URL", ""),
			Instance:      GetEnv("MESSAGING_INSTANCE", ""),
			APIKey:        GetEnv("MESSAGING_API_KEY", ""),
			WebhookSecret: GetEnv("MESSAGING_WEBHOOK_SECRET", ""),
			RetryAttempts: p.integer("MESSAGING_RETRY_ATTEMPTS", 5),
			RetryInterval: p.duration("MESSAGING_RETRY_INTERVAL", 30*time.Second),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
