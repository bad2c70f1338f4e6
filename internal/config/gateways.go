package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

type gatewayFile struct {
	Gateways []gatewayEntry `mapstructure:"gateways"`
}

type gatewayEntry struct {
	ID             string             `mapstructure:"id"`
	Provider       string             `mapstructure:"provider"`
	Active         bool               `mapstructure:"active"`
	Priority       int                `mapstructure:"priority"`
	AllowedMethods []string           `mapstructure:"allowedmethods"`
	EntityTypes    []string           `mapstructure:"entitytypes"`
	CheckoutType   string             `mapstructure:"checkouttype"`
	Sandbox        bool               `mapstructure:"sandbox"`
	WebhookRetry   models.RetryPolicy `mapstructure:"webhookretry"`
	URLs           models.GatewayURLs `mapstructure:"urls"`
}

// LoadGateways reads gateway rows from a YAML file, keeping file order.
// Credentials never live in the file: each key is looked up as
// {PROVIDER}_{KEY} and {PROVIDER}_SANDBOX_{KEY}.
func LoadGateways(path string, lookup func(key string) string) ([]models.GatewayConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read gateways file: %w", err)
	}

	var file gatewayFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode gateways file: %w", err)
	}

	configs := make([]models.GatewayConfig, 0, len(file.Gateways))
	for i, e := range file.Gateways {
		cfg, err := e.toModel(lookup)
		if err != nil {
			return nil, fmt.Errorf("gateway #%d (%s): %w", i+1, e.ID, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (e gatewayEntry) toModel(lookup func(string) string) (models.GatewayConfig, error) {
	provider, ok := models.ParseProvider(e.Provider)
	if !ok {
		return models.GatewayConfig{}, fmt.Errorf("unknown provider %q", e.Provider)
	}

	cfg := models.GatewayConfig{
		ID:           e.ID,
		Provider:     provider,
		Active:       e.Active,
		Priority:     e.Priority,
		CheckoutType: models.CheckoutType(strings.ToUpper(e.CheckoutType)),
		Sandbox:      e.Sandbox,
		WebhookRetry: e.WebhookRetry,
		URLs:         e.URLs,
		Credentials:  credentialsFor(provider, lookup),
	}
	if cfg.ID == "" {
		cfg.ID = strings.ToLower(string(provider))
	}
	if cfg.CheckoutType == "" {
		cfg.CheckoutType = models.CheckoutRedirect
	}
	if cfg.CheckoutType != models.CheckoutRedirect && cfg.CheckoutType != models.CheckoutTransparent {
		return models.GatewayConfig{}, fmt.Errorf("unknown checkout type %q", e.CheckoutType)
	}

	for _, m := range e.AllowedMethods {
		method := models.PaymentMethod(strings.ToUpper(m))
		switch method {
		case models.MethodCreditCard, models.MethodDebitCard, models.MethodPix, models.MethodBoleto:
			cfg.AllowedMethods = append(cfg.AllowedMethods, method)
		default:
			return models.GatewayConfig{}, fmt.Errorf("unknown payment method %q", m)
		}
	}
	for _, k := range e.EntityTypes {
		kind := models.EntityKind(strings.ToUpper(k))
		switch kind {
		case models.EntityAthleteFiliation, models.EntityClubRegistration, models.EntityEventRegistration:
			cfg.EntityTypes = append(cfg.EntityTypes, kind)
		default:
			return models.GatewayConfig{}, fmt.Errorf("unknown entity type %q", k)
		}
	}
	return cfg, nil
}

func credentialsFor(p models.Provider, lookup func(string) string) models.Credentials {
	creds := models.Credentials{Live: map[string]string{}, Sandbox: map[string]string{}}
	for _, key := range models.CredentialKeys {
		upper := strings.ToUpper(key)
		if v := lookup(string(p) + "_" + upper); v != "" {
			creds.Live[key] = v
		}
		if v := lookup(string(p) + "_SANDBOX_" + upper); v != "" {
			creds.Sandbox[key] = v
		}
	}
	return creds
}

// EnvLookup resolves credential keys through GetEnv.
func EnvLookup(key string) string {
	return GetEnv(key, "")
}
