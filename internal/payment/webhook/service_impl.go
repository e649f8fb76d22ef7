package webhook

import (
	"context"
	"errors"
	"net/http"

	errorlogdomain "github.com/smallbiznis/fortuna/internal/errorlog/domain"
	"github.com/smallbiznis/fortuna/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/fortuna/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const endpoint = "/api/payments/webhooks/:provider"

type Params struct {
	fx.In

	Log           *zap.Logger
	Adapters      *adapters.Registry
	SettlementSvc settlementdomain.Service
	ErrorLogSvc   errorlogdomain.Service `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	adapters      *adapters.Registry
	settlementSvc settlementdomain.Service
	errorLogSvc   errorlogdomain.Service
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:           p.Log.Named("payment.webhook"),
		adapters:      p.Adapters,
		settlementSvc: p.SettlementSvc,
		errorLogSvc:   p.ErrorLogSvc,
	}
}

// IngestWebhook hands a raw delivery to the reconciler. A nil error means the
// delivery is acknowledged, including deliveries that changed nothing.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	gateway, err := s.adapters.Gateway(provider)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return paymentdomain.ErrInvalidPayload
	}

	signature := headers.Get(gateway.SignatureHeader())
	_, err = s.settlementSvc.OnWebhookEvent(ctx, gateway.Provider(), payload, signature)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return err
	}

	s.log.Error("webhook processing failed", zap.String("provider", gateway.Provider()), zap.Error(err))
	if s.errorLogSvc != nil {
		if logErr := s.errorLogSvc.Record(ctx, errorlogdomain.Entry{
			ErrorType: "webhook_processing_error",
			Message:   err.Error(),
			Endpoint:  endpoint,
			Severity:  errorlogdomain.SeverityHigh,
			Metadata:  map[string]any{"provider": gateway.Provider()},
		}); logErr != nil {
			s.log.Warn("error log for webhook failed", zap.Error(logErr))
		}
	}
	return err
}
