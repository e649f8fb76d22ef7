package adapters

import (
	"strings"
	"sync"

	"github.com/smallbiznis/fortuna/internal/payment/domain"
)

// Registry builds gateways from their factories on first use and keeps them.
type Registry struct {
	cfg             domain.GatewayConfig
	defaultProvider string
	factories       map[string]domain.GatewayFactory

	mu       sync.Mutex
	gateways map[string]domain.Gateway
}

func NewRegistry(defaultProvider string, cfg domain.GatewayConfig, factories ...domain.GatewayFactory) *Registry {
	registry := &Registry{
		cfg:             cfg,
		defaultProvider: normalize(defaultProvider),
		factories:       map[string]domain.GatewayFactory{},
		gateways:        map[string]domain.Gateway{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) DefaultProvider() string {
	if r == nil {
		return ""
	}
	return r.defaultProvider
}

// Default returns the gateway used for new purchases.
func (r *Registry) Default() (domain.Gateway, error) {
	return r.Gateway(r.DefaultProvider())
}

func (r *Registry) Gateway(provider string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gw, ok := r.gateways[provider]; ok {
		return gw, nil
	}
	gw, err := factory.NewGateway(r.cfg)
	if err != nil {
		return nil, err
	}
	r.gateways[provider] = gw
	return gw, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
