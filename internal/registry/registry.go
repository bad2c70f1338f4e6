// Package registry resolves which configured gateway may serve a charge and
// which credential set it uses.
package registry

import (
	"sort"
	"strings"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// requiredCredentials lists the keys a provider cannot operate without.
var requiredCredentials = map[models.Provider][]string{
	models.ProviderMercadoPago: {models.CredAccessToken},
	models.ProviderPagSeguro:   {models.CredToken},
	models.ProviderAsaas:       {models.CredAPIKey},
	models.ProviderPagHiper:    {models.CredAPIKey, models.CredToken},
	models.ProviderAppmax:      {models.CredAccessToken},
	models.ProviderPagarme:     {models.CredSecretKey},
	models.ProviderYampi:       {models.CredAlias, models.CredToken, models.CredSecretKey},
	models.ProviderInfinitePay: {models.CredHandle},
	models.ProviderGetnet:      {models.CredClientID, models.CredClientSecret, models.CredSellerID},
}

// RequiredCredentials returns the credential keys p needs.
func RequiredCredentials(p models.Provider) []string {
	return requiredCredentials[p]
}

type Registry struct {
	configs       []models.GatewayConfig
	globalSandbox bool
}

// New builds a registry over configs, kept in insertion order.
func New(configs []models.GatewayConfig, globalSandbox bool) *Registry {
	cp := make([]models.GatewayConfig, len(configs))
	copy(cp, configs)
	return &Registry{configs: cp, globalSandbox: globalSandbox}
}

// Configs returns every configuration row in insertion order.
func (r *Registry) Configs() []models.GatewayConfig {
	out := make([]models.GatewayConfig, len(r.configs))
	copy(out, r.configs)
	return out
}

// SelectGateway returns the active config with the lowest priority that
// accepts method for entity kind. Ties keep insertion order.
func (r *Registry) SelectGateway(kind models.EntityKind, method models.PaymentMethod) (models.GatewayConfig, error) {
	var candidates []models.GatewayConfig
	for _, c := range r.configs {
		if c.Active && c.Allows(method) && c.Serves(kind) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return models.GatewayConfig{}, &models.ConfigurationError{
			Kind:       models.NoEligibleGateway,
			EntityKind: kind,
			Method:     method,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	chosen := candidates[0]
	if missing := r.missing(chosen); len(missing) > 0 {
		return models.GatewayConfig{}, &models.ConfigurationError{
			Kind:       models.MisconfiguredGateway,
			Provider:   chosen.Provider,
			EntityKind: kind,
			Method:     method,
			Missing:    missing,
		}
	}
	return chosen, nil
}

// IsSandbox reports whether cfg runs against sandbox endpoints.
func (r *Registry) IsSandbox(cfg models.GatewayConfig) bool {
	return r.globalSandbox || cfg.Sandbox
}

// Credentials returns the single credential set cfg uses. Sandbox and live
// values are never mixed.
func (r *Registry) Credentials(cfg models.GatewayConfig) map[string]string {
	src := cfg.Credentials.Live
	if r.IsSandbox(cfg) {
		src = cfg.Credentials.Sandbox
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ForProvider returns the first active config row of p, falling back to the
// first inactive one so rows created under a retired config still resolve.
func (r *Registry) ForProvider(p models.Provider) (models.GatewayConfig, bool) {
	var fallback *models.GatewayConfig
	for i, c := range r.configs {
		if c.Provider != p {
			continue
		}
		if c.Active {
			return c, true
		}
		if fallback == nil {
			fallback = &r.configs[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return models.GatewayConfig{}, false
}

// WebhookSecrets returns the values inbound webhooks from p are checked with.
func (r *Registry) WebhookSecrets(p models.Provider) models.WebhookSecrets {
	cfg, ok := r.ForProvider(p)
	if !ok {
		return models.WebhookSecrets{}
	}
	creds := r.Credentials(cfg)
	apiKey := creds[models.CredAPIKey]
	if apiKey == "" {
		apiKey = creds[models.CredToken]
	}
	return models.WebhookSecrets{
		Secret: creds[models.CredWebhookSecret],
		APIKey: apiKey,
	}
}

// Validate returns one ConfigurationError per active config that lacks
// credentials.
func (r *Registry) Validate() []error {
	var errs []error
	for _, c := range r.configs {
		if !c.Active {
			continue
		}
		if missing := r.missing(c); len(missing) > 0 {
			errs = append(errs, &models.ConfigurationError{
				Kind:     models.MisconfiguredGateway,
				Provider: c.Provider,
				Missing:  missing,
			})
		}
	}
	return errs
}

func (r *Registry) missing(cfg models.GatewayConfig) []string {
	creds := r.Credentials(cfg)
	var missing []string
	for _, key := range requiredCredentials[cfg.Provider] {
		if strings.TrimSpace(creds[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
