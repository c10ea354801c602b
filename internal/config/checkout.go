package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CheckoutConfig carries checkout knobs that can change without a restart.
type CheckoutConfig struct {
	Currency             string
	DefaultRefundReason  string
	NotificationsEnabled bool
	NotificationTimeout  time.Duration
}

const DefaultRefundReason = "Customer requested refund"

func DefaultCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		Currency:             "INR",
		DefaultRefundReason:  DefaultRefundReason,
		NotificationsEnabled: true,
		NotificationTimeout:  30 * time.Second,
	}
}

// DefaultCheckoutConfigPaths are searched in order for checkout.yml.
var DefaultCheckoutConfigPaths = []string{
	"/var/lib/storefront/config",
	"/etc/storefront",
	".",
}

type CheckoutConfigHolder struct {
	current atomic.Value // holds CheckoutConfig
}

func provideCheckoutConfigHolder(cfg Config, log *zap.Logger) (*CheckoutConfigHolder, error) {
	defaults := DefaultCheckoutConfig()
	if cfg.Payment.DefaultCurrency != "" {
		defaults.Currency = cfg.Payment.DefaultCurrency
	}
	return NewCheckoutConfigHolder(log, defaults, DefaultCheckoutConfigPaths)
}

// NewCheckoutConfigHolder reads checkout.yml from the first matching path and
// keeps watching it. A missing file falls back to defaults.
func NewCheckoutConfigHolder(log *zap.Logger, defaults CheckoutConfig, paths []string) (*CheckoutConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("checkout.config")

	v := viper.New()
	v.SetConfigName("checkout")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("checkout.currency", defaults.Currency)
	v.SetDefault("checkout.defaultRefundReason", defaults.DefaultRefundReason)
	v.SetDefault("checkout.notificationsEnabled", defaults.NotificationsEnabled)
	v.SetDefault("checkout.notificationTimeout", defaults.NotificationTimeout)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeCheckoutConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &CheckoutConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		log.Info("checkout config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCheckoutConfig(v)
		if err != nil {
			log.Warn("checkout config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("checkout config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticCheckoutConfig returns a holder that never reloads.
func NewStaticCheckoutConfig(cfg CheckoutConfig) *CheckoutConfigHolder {
	holder := &CheckoutConfigHolder{}
	holder.current.Store(normalizeCheckoutConfig(cfg))
	return holder
}

func (h *CheckoutConfigHolder) Get() CheckoutConfig {
	if h == nil {
		return DefaultCheckoutConfig()
	}
	return h.current.Load().(CheckoutConfig)
}

func decodeCheckoutConfig(v *viper.Viper) (CheckoutConfig, error) {
	cfg := normalizeCheckoutConfig(CheckoutConfig{
		Currency:             v.GetString("checkout.currency"),
		DefaultRefundReason:  v.GetString("checkout.defaultRefundReason"),
		NotificationsEnabled: v.GetBool("checkout.notificationsEnabled"),
		NotificationTimeout:  v.GetDuration("checkout.notificationTimeout"),
	})
	if err := validateCheckoutConfig(cfg); err != nil {
		return CheckoutConfig{}, err
	}
	return cfg, nil
}

func normalizeCheckoutConfig(cfg CheckoutConfig) CheckoutConfig {
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	cfg.DefaultRefundReason = strings.TrimSpace(cfg.DefaultRefundReason)
	if cfg.DefaultRefundReason == "" {
		cfg.DefaultRefundReason = DefaultRefundReason
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = 30 * time.Second
	}
	return cfg
}

func validateCheckoutConfig(cfg CheckoutConfig) error {
	if len(cfg.Currency) != 3 {
		return errors.New("checkout.currency must be a 3-letter ISO code")
	}
	return nil
}
