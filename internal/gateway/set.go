package gateway

import (
	"net/http"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/registry"
)

// Set resolves a gateway config row, or a provider's default row, to its
// adapter. It is built once at startup.
type Set struct {
	adapters map[models.Provider]Adapter
	byConfig map[string]Adapter
}

// NewAdapters builds one adapter per config row, each bound to the single
// credential set the registry resolves for that row. The provider default is
// the row registry.ForProvider picks.
func NewAdapters(reg *registry.Registry, hc *http.Client) Set {
	set := Set{
		adapters: make(map[models.Provider]Adapter),
		byConfig: make(map[string]Adapter),
	}
	for _, cfg := range reg.Configs() {
		if a := newAdapter(cfg.Provider, reg.Credentials(cfg), reg.IsSandbox(cfg), hc); a != nil {
			set.byConfig[cfg.ID] = a
		}
	}
	for _, p := range models.AllProviders {
		if cfg, ok := reg.ForProvider(p); ok {
			if a, ok := set.byConfig[cfg.ID]; ok {
				set.adapters[p] = a
			}
		}
	}
	return set
}

// NewSet wraps already constructed adapters as provider defaults.
func NewSet(adapters ...Adapter) Set {
	set := Set{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		set.adapters[a.Provider()] = a
	}
	return set
}

func (s Set) For(p models.Provider) (Adapter, bool) {
	a, ok := s.adapters[p]
	return a, ok
}

func (s Set) ForConfig(id string) (Adapter, bool) {
	a, ok := s.byConfig[id]
	return a, ok
}

func newAdapter(p models.Provider, creds map[string]string, sandbox bool, hc *http.Client) Adapter {
	switch p {
	case models.ProviderMercadoPago:
		return NewMercadoPago(creds, hc)
	case models.ProviderPagSeguro:
		return NewPagSeguro(creds, sandbox, hc)
	case models.ProviderAsaas:
		return NewAsaas(creds, sandbox, hc)
	case models.ProviderPagHiper:
		return NewPagHiper(creds, hc)
	case models.ProviderAppmax:
		return NewAppmax(creds, sandbox, hc)
	case models.ProviderPagarme:
		return NewPagarme(creds, hc)
	case models.ProviderYampi:
		return NewYampi(creds, hc)
	case models.ProviderInfinitePay:
		return NewInfinitePay(creds, hc)
	case models.ProviderGetnet:
		return NewGetnet(creds, sandbox, hc)
	}
	return nil
}
