package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	"github.com/smallbiznis/storefront/internal/payment/adapters/sandbox"
	"github.com/smallbiznis/storefront/internal/payment/domain"
)

// Registry maps a PAYMENT_PROVIDER name to the factory that builds its gateway.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

// Provide registers every gateway this service can talk to.
func Provide() *Registry {
	return NewRegistry(razorpay.NewFactory(), sandbox.NewFactory())
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := providerKey(f.Provider()); name != "" {
			r.factories[name] = f
		}
	}
	return r
}

// Providers lists the registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Gateway builds the checkout gateway selected by cfg.Provider.
func (r *Registry) Gateway(cfg config.PaymentConfig) (domain.Gateway, error) {
	name := providerKey(cfg.Provider)
	var factory domain.AdapterFactory
	if r != nil {
		factory = r.factories[name]
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %q (registered: %s)", domain.ErrProviderNotFound, name, strings.Join(r.Providers(), ", "))
	}
	return factory.NewAdapter(domain.AdapterConfig{
		KeyID:         cfg.KeyID,
		KeySecret:     cfg.KeySecret,
		WebhookSecret: cfg.WebhookSecret,
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.Timeout,
	})
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
