package payment

import (
	"time"

	"github.com/smallbiznis/fortuna/internal/config"
	"github.com/smallbiznis/fortuna/internal/payment/adapters"
	"github.com/smallbiznis/fortuna/internal/payment/adapters/fake"
	"github.com/smallbiznis/fortuna/internal/payment/adapters/payten"
	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	"github.com/smallbiznis/fortuna/internal/payment/repository"
	paymentservice "github.com/smallbiznis/fortuna/internal/payment/service"
	"github.com/smallbiznis/fortuna/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(paymentservice.NewCheckout),
	fx.Provide(webhook.NewService),
)

func NewRegistry(cfg config.Config) *adapters.Registry {
	factories := []paymentdomain.GatewayFactory{payten.NewFactory()}
	if !cfg.IsProduction() {
		factories = append(factories, fake.NewFactory(nil))
	}
	return adapters.NewRegistry(cfg.Gateway.Provider, paymentdomain.GatewayConfig{
		Mode:       cfg.Gateway.Mode,
		APIKey:     cfg.Gateway.APIKey,
		MerchantID: cfg.Gateway.MerchantID,
		BaseURL:    cfg.Gateway.BaseURL,
		Timeout:    time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
	}, factories...)
}
