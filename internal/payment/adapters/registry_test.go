package adapters_test

import (
	"testing"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/sandbox"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvideRegistersCheckoutGateways(t *testing.T) {
	assert.Equal(t, []string{"razorpay", "sandbox"}, adapters.Provide().Providers())
	assert.Equal(t, []string{"sandbox"}, adapters.NewRegistry(sandbox.NewFactory(), nil).Providers())
}

func TestGatewaySelectsConfiguredProvider(t *testing.T) {
	registry := adapters.Provide()

	gw, err := registry.Gateway(config.PaymentConfig{
		Provider:      " SANDBOX ",
		KeyID:         "key",
		KeySecret:     "secret",
		WebhookSecret: "whsec",
	})
	require.NoError(t, err)
	assert.Equal(t, sandbox.ProviderName, gw.Provider())
	assert.Equal(t, "key", gw.PublicKey())

	_, err = registry.Gateway(config.PaymentConfig{Provider: "stripe"})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
	assert.Contains(t, err.Error(), "razorpay, sandbox")

	_, err = registry.Gateway(config.PaymentConfig{Provider: "razorpay", KeyID: "key"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	var empty *adapters.Registry
	_, err = empty.Gateway(config.PaymentConfig{Provider: "razorpay"})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
