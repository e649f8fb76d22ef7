package config

import (
	"errors"
	"log"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CheckoutConfig is the operator-tunable part of the purchase flow.
type CheckoutConfig struct {
	AppURL     string `mapstructure:"appUrl"`
	ReturnPath string `mapstructure:"returnPath"`
	CancelPath string `mapstructure:"cancelPath"`
	// GrantTrialOnProvision gives newly provisioned accounts one credit.
	GrantTrialOnProvision bool `mapstructure:"grantTrialOnProvision"`
}

func DefaultCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		AppURL:                "http://localhost:3000",
		ReturnPath:            "/payment/success",
		CancelPath:            "/payment/cancel",
		GrantTrialOnProvision: true,
	}
}

// ReturnURL builds the success redirect for a transaction.
func (c CheckoutConfig) ReturnURL(transactionID string) string {
	return c.buildURL(c.ReturnPath, transactionID)
}

func (c CheckoutConfig) CancelURL(transactionID string) string {
	return c.buildURL(c.CancelPath, transactionID)
}

func (c CheckoutConfig) buildURL(path, transactionID string) string {
	base := strings.TrimRight(strings.TrimSpace(c.AppURL), "/")
	values := url.Values{}
	values.Set("transaction_id", transactionID)
	return base + "/" + strings.TrimLeft(path, "/") + "?" + values.Encode()
}

type CheckoutConfigHolder struct {
	current atomic.Value // holds CheckoutConfig
}

// NewStaticCheckoutConfigHolder returns a holder that never reloads.
func NewStaticCheckoutConfigHolder(cfg CheckoutConfig) *CheckoutConfigHolder {
	holder := &CheckoutConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCheckoutConfigHolder() (*CheckoutConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("checkout")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fortuna/config")
	v.AddConfigPath("/etc/fortuna")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FORTUNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCheckoutConfig()
	v.SetDefault("checkout.appUrl", defaults.AppURL)
	v.SetDefault("checkout.returnPath", defaults.ReturnPath)
	v.SetDefault("checkout.cancelPath", defaults.CancelPath)
	v.SetDefault("checkout.grantTrialOnProvision", defaults.GrantTrialOnProvision)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var cfg CheckoutConfig
	if err := v.UnmarshalKey("checkout", &cfg); err != nil {
		return nil, err
	}
	if err := validateCheckoutConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticCheckoutConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CheckoutConfig
		if err := v.UnmarshalKey("checkout", &updated); err != nil {
			log.Printf("[checkout-config] reload failed: %v", err)
			return
		}
		if err := validateCheckoutConfig(updated); err != nil {
			log.Printf("[checkout-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[checkout-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CheckoutConfigHolder) Get() CheckoutConfig {
	return h.current.Load().(CheckoutConfig)
}

func validateCheckoutConfig(cfg CheckoutConfig) error {
	raw := strings.TrimSpace(cfg.AppURL)
	if raw == "" {
		return errors.New("checkout.appUrl cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("checkout.appUrl must be an absolute url")
	}
	if strings.TrimSpace(cfg.ReturnPath) == "" || strings.TrimSpace(cfg.CancelPath) == "" {
		return errors.New("checkout return and cancel paths are required")
	}
	return nil
}
