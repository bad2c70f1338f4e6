package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	Env = nil
	t.Setenv("PORT", "")
	t.Setenv("GATEWAY_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, 20*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 2, cfg.ChargeMaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.PendingExpiry)
	assert.Equal(t, 30*time.Minute, cfg.ReconcileQueryAfter)
	assert.Equal(t, 5, cfg.Messaging.RetryAttempts)
	assert.False(t, cfg.Sandbox)
}

func TestLoad_FromEnv(t *testing.T) {
	Env = nil
	t.Setenv("PORT", "9090")
	t.Setenv("PAYMENTS_SANDBOX", "true")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("RECONCILE_BATCH_SIZE", "50")
	t.Setenv("MESSAGING_RETRY_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.Sandbox)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 50, cfg.ReconcileBatchSize)
	assert.Equal(t, time.Minute, cfg.Messaging.RetryInterval)
}

func TestLoad_EnvFileWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\n"), 0o600))
	t.Setenv("PORT", "9090")

	SetupEnvFile(path)
	t.Cleanup(func() { Env = nil })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
}

func TestLoad_InvalidValue(t *testing.T) {
	Env = nil
	t.Setenv("PENDING_EXPIRY", "one day")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PENDING_EXPIRY")
}

const gatewaysYAML = `
gateways:
  - id: asaas-main
    provider: asaas
    active: true
    priority: 1
    allowedMethods: [PIX, boleto]
    entityTypes: [CLUB_REGISTRATION]
    checkoutType: transparent
    webhookRetry:
      attempts: 3
      interval: 45s
    urls:
      notification: https://api.example.org/webhooks/asaas
  - provider: MERCADOPAGO
    active: false
    priority: 2
    allowedMethods: [CREDIT_CARD]
    entityTypes: [EVENT_REGISTRATION]
`

func writeGateways(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateways.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadGateways(t *testing.T) {
	env := map[string]string{
		"ASAAS_API_KEY":                "live-key",
		"ASAAS_SANDBOX_API_KEY":        "sandbox-key",
		"ASAAS_WEBHOOK_SECRET":         "whsec",
		"MERCADOPAGO_ACCESS_TOKEN":     "mp-token",
		"PAGSEGURO_TOKEN":              "unused",
		"MERCADOPAGO_SANDBOX_NOT_USED": "x",
	}
	lookup := func(k string) string { return env[k] }

	configs, err := LoadGateways(writeGateways(t, gatewaysYAML), lookup)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	asaas := configs[0]
	assert.Equal(t, "asaas-main", asaas.ID)
	assert.Equal(t, models.ProviderAsaas, asaas.Provider)
	assert.True(t, asaas.Active)
	assert.Equal(t, []models.PaymentMethod{models.MethodPix, models.MethodBoleto}, asaas.AllowedMethods)
	assert.Equal(t, []models.EntityKind{models.EntityClubRegistration}, asaas.EntityTypes)
	assert.Equal(t, models.CheckoutTransparent, asaas.CheckoutType)
	assert.Equal(t, models.RetryPolicy{Attempts: 3, Interval: 45 * time.Second}, asaas.WebhookRetry)
	assert.Equal(t, "https://api.example.org/webhooks/asaas", asaas.URLs.Notification)
	assert.Equal(t, map[string]string{models.CredAPIKey: "live-key", models.CredWebhookSecret: "whsec"}, asaas.Credentials.Live)
	assert.Equal(t, map[string]string{models.CredAPIKey: "sandbox-key"}, asaas.Credentials.Sandbox)

	mp := configs[1]
	assert.Equal(t, "mercadopago", mp.ID)
	assert.Equal(t, models.CheckoutRedirect, mp.CheckoutType)
	assert.Equal(t, "mp-token", mp.Credentials.Live[models.CredAccessToken])
	assert.Empty(t, mp.Credentials.Sandbox)
}

func TestLoadGateways_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", "gateways:\n  - provider: STRIPE\n"},
		{"unknown method", "gateways:\n  - provider: ASAAS\n    allowedMethods: [CASH]\n"},
		{"unknown entity", "gateways:\n  - provider: ASAAS\n    entityTypes: [SPONSOR]\n"},
		{"unknown checkout", "gateways:\n  - provider: ASAAS\n    checkoutType: POPUP\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGateways(writeGateways(t, tt.body), func(string) string { return "" })
			assert.Error(t, err)
		})
	}
}

func TestLoadGateways_MissingFile(t *testing.T) {
	_, err := LoadGateways(filepath.Join(t.TempDir(), "nope.yaml"), func(string) string { return "" })
	assert.Error(t, err)
}
