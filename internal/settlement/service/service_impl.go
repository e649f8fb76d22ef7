package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fortuna/internal/audit/domain"
	"github.com/smallbiznis/fortuna/internal/clock"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
	errorlogdomain "github.com/smallbiznis/fortuna/internal/errorlog/domain"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
	"github.com/smallbiznis/fortuna/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/fortuna/internal/settlement/domain"
	subscriptiondomain "github.com/smallbiznis/fortuna/internal/subscription/domain"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB                *gorm.DB
	Log               *zap.Logger
	GenID             *snowflake.Node
	Clock             clock.Clock
	TxnSvc            txndomain.Service
	CreditSvc         creditdomain.Service
	SubscriptionSvc   subscriptiondomain.Service
	Gateways          *adapters.Registry
	PaymentRepo       paymentdomain.Repository
	AuditSvc          auditdomain.Service           `optional:"true"`
	ErrorLogSvc       errorlogdomain.Service        `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics           `optional:"true"`
	SettlementMetrics *obsmetrics.SettlementMetrics `optional:"true"`
}

// Service turns gateway outcomes into transaction transitions and the credit
// movements they imply. Each event is applied inside one store transaction.
type Service struct {
	db                *gorm.DB
	log               *zap.Logger
	genID             *snowflake.Node
	clock             clock.Clock
	txnSvc            txndomain.Service
	creditSvc         creditdomain.Service
	subscriptionSvc   subscriptiondomain.Service
	gateways          *adapters.Registry
	paymentRepo       paymentdomain.Repository
	auditSvc          auditdomain.Service
	errorLogSvc       errorlogdomain.Service
	obsMetrics        *obsmetrics.Metrics
	settlementMetrics *obsmetrics.SettlementMetrics
}

func NewService(p Params) settlementdomain.Service {
	return &Service{
		db:                p.DB,
		log:               p.Log.Named("settlement.service"),
		genID:             p.GenID,
		clock:             p.Clock,
		txnSvc:            p.TxnSvc,
		creditSvc:         p.CreditSvc,
		subscriptionSvc:   p.SubscriptionSvc,
		gateways:          p.Gateways,
		paymentRepo:       p.PaymentRepo,
		auditSvc:          p.AuditSvc,
		errorLogSvc:       p.ErrorLogSvc,
		obsMetrics:        p.ObsMetrics,
		settlementMetrics: p.SettlementMetrics,
	}
}

func targetStatus(outcome settlementdomain.Outcome) (txndomain.Status, bool) {
	switch outcome {
	case settlementdomain.OutcomeCompleted:
		return txndomain.StatusCompleted, true
	case settlementdomain.OutcomeFailed:
		return txndomain.StatusFailed, true
	case settlementdomain.OutcomeRefunded:
		return txndomain.StatusRefunded, true
	default:
		return "", false
	}
}

func (s *Service) Apply(ctx context.Context, event settlementdomain.Event) (*settlementdomain.Result, error) {
	source := string(event.Source)
	target, ok := targetStatus(event.Outcome)
	if !ok {
		s.log.Info("settlement outcome ignored",
			zap.String("order_id", event.OrderID),
			zap.String("outcome", string(event.Outcome)),
			zap.String("source", source),
		)
		s.settlementMetrics.IncEvent(source, string(event.Outcome), obsmetrics.ReconcileResultIgnored)
		return nil, settlementdomain.ErrUnknownOutcome
	}

	result := settlementdomain.Result{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txnSvc := s.txnSvc.WithTx(tx)

		txn, err := txnSvc.Get(ctx, event.OrderID)
		if errors.Is(err, txndomain.ErrNotFound) || errors.Is(err, txndomain.ErrInvalidID) {
			return settlementdomain.ErrUnknownTransaction
		}
		if err != nil {
			return err
		}
		if event.ExternalPaymentID != "" && txn.ExternalPaymentID != nil && *txn.ExternalPaymentID != event.ExternalPaymentID {
			s.log.Warn("settlement external payment id mismatch",
				zap.String("order_id", event.OrderID),
				zap.String("external_payment_id", event.ExternalPaymentID),
			)
			return settlementdomain.ErrUnknownTransaction
		}
		if event.ExternalPaymentID != "" && txn.ExternalPaymentID == nil {
			if txn, err = txnSvc.AttachExternalID(ctx, event.OrderID, event.ExternalPaymentID, ""); err != nil {
				return err
			}
		}

		next, err := txnSvc.TransitionTo(ctx, event.OrderID, target)
		if errors.Is(err, txndomain.ErrInvalidTransition) {
			result.Transaction = txn
			return nil
		}
		if err != nil {
			return err
		}
		result.Transaction = next
		result.Applied = true

		meter := s.creditSvc.WithTx(tx)
		grant := creditdomain.Grant{TransactionID: next.ID, Credits: next.CreditsGranted}
		switch target {
		case txndomain.StatusCompleted:
			if _, err := meter.GrantPurchase(ctx, next.AccountID, grant); err != nil {
				return err
			}
			if next.Kind == txndomain.KindSubscription {
				if _, _, err := s.subscriptionSvc.OpenOrExtend(ctx, tx, subscriptiondomain.OpenRequest{
					AccountID:     next.AccountID,
					TransactionID: next.ID,
					Amount:        next.Amount,
					Currency:      next.Currency,
					Now:           s.clock.Now(),
				}); err != nil {
					return err
				}
			}
		case txndomain.StatusRefunded:
			// Subscription state is left as is; access ends at renewal.
			reversal, err := meter.ReversePurchase(ctx, next.AccountID, grant)
			if err != nil {
				return err
			}
			result.Gap = reversal.Gap()
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, settlementdomain.ErrUnknownTransaction):
			s.log.Warn("settlement for unknown transaction",
				zap.String("order_id", event.OrderID),
				zap.String("source", source),
			)
			s.settlementMetrics.IncEvent(source, string(event.Outcome), obsmetrics.ReconcileResultUnknownTransaction)
		default:
			s.log.Error("settlement failed",
				zap.String("order_id", event.OrderID),
				zap.String("outcome", string(event.Outcome)),
				zap.Error(err),
			)
			s.settlementMetrics.IncEvent(source, string(event.Outcome), obsmetrics.ReconcileResultError)
			s.settlementMetrics.IncStoreError(err)
		}
		return nil, err
	}

	if !result.Applied {
		s.log.Info("settlement no-op",
			zap.String("order_id", event.OrderID),
			zap.String("outcome", string(event.Outcome)),
			zap.String("status", string(result.Transaction.Status)),
			zap.String("source", source),
		)
		s.settlementMetrics.IncEvent(source, string(event.Outcome), obsmetrics.ReconcileResultNoop)
		return &result, nil
	}

	s.log.Info("settlement applied",
		zap.String("order_id", event.OrderID),
		zap.String("account_id", result.Transaction.AccountID.String()),
		zap.String("status", string(result.Transaction.Status)),
		zap.String("source", source),
	)
	s.settlementMetrics.IncEvent(source, string(event.Outcome), obsmetrics.ReconcileResultApplied)
	if result.Gap > 0 {
		s.reportGap(ctx, result.Transaction, result.Gap)
	}
	return &result, nil
}

// reportGap records a refund that could not claw back every granted credit.
// It runs after commit so the report does not hold the settlement transaction.
func (s *Service) reportGap(ctx context.Context, txn *txndomain.Transaction, gap int64) {
	accountID := txn.AccountID
	transactionID := txn.ID.String()
	metadata := map[string]any{
		"transaction_id":  transactionID,
		"kind":            string(txn.Kind),
		"credits_granted": txn.CreditsGranted,
		"gap":             gap,
	}

	s.log.Warn("reconciliation gap",
		zap.String("transaction_id", transactionID),
		zap.String("account_id", accountID.String()),
		zap.Int64("credits_granted", txn.CreditsGranted),
		zap.Int64("gap", gap),
	)
	s.settlementMetrics.AddGap(string(txn.Kind), gap)

	if s.errorLogSvc != nil {
		if err := s.errorLogSvc.Record(ctx, errorlogdomain.Entry{
			ErrorType: "reconciliation_gap",
			Message:   fmt.Sprintf("refund of transaction %s left %d spent credits unrecovered", transactionID, gap),
			Severity:  errorlogdomain.SeverityHigh,
			AccountID: &accountID,
			Metadata:  metadata,
		}); err != nil {
			s.log.Warn("error log for reconciliation gap failed", zap.Error(err))
		}
	}
	if s.auditSvc != nil {
		if err := s.auditSvc.AuditLog(ctx, &accountID, auditdomain.ActorTypeSystem, nil, "settlement.reconciliation_gap", "transaction", &transactionID, metadata); err != nil {
			s.log.Warn("audit reconciliation gap failed", zap.Error(err))
		}
	}
}

// OnWebhookEvent verifies, records and applies one webhook delivery. Unknown
// transactions, ignored events and duplicate deliveries are acknowledged.
func (s *Service) OnWebhookEvent(ctx context.Context, provider string, rawBody []byte, signature string) (*settlementdomain.Result, error) {
	gateway, err := s.gateways.Gateway(provider)
	if err != nil {
		return nil, err
	}
	provider = gateway.Provider()

	if !gateway.ValidateWebhookSignature(rawBody, signature) {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		if s.auditSvc != nil {
			if err := s.auditSvc.AuditLog(ctx, nil, auditdomain.ActorTypeGateway, &provider, "payment.webhook.invalid_signature", "payment_event", nil, map[string]any{
				"provider":     provider,
				"payload_size": len(rawBody),
			}); err != nil {
				s.log.Warn("audit invalid signature failed", zap.Error(err))
			}
		}
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := gateway.ParseWebhook(rawBody)
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPaymentEvent(ctx, provider, event.EventType)

	record, duplicate, err := s.recordEvent(ctx, provider, event, rawBody)
	if err != nil {
		return nil, err
	}
	if duplicate {
		s.log.Info("webhook already processed",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		s.settlementMetrics.IncEvent(string(settlementdomain.SourceWebhook), string(event.Status), obsmetrics.ReconcileResultNoop)
		return &settlementdomain.Result{}, nil
	}

	result, err := s.Apply(ctx, settlementdomain.Event{
		OrderID:           event.OrderID,
		ExternalPaymentID: event.ExternalPaymentID,
		Outcome:           settlementdomain.OutcomeFromStatus(event.Status),
		Source:            settlementdomain.SourceWebhook,
	})
	switch {
	case errors.Is(err, settlementdomain.ErrUnknownTransaction), errors.Is(err, settlementdomain.ErrUnknownOutcome):
		result = &settlementdomain.Result{}
	case err != nil:
		return nil, err
	}

	if err := s.paymentRepo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		s.log.Warn("mark payment event processed failed", zap.String("event_id", record.ID.String()), zap.Error(err))
	}
	return result, nil
}

func (s *Service) recordEvent(ctx context.Context, provider string, event *paymentdomain.Event, rawBody []byte) (*paymentdomain.EventRecord, bool, error) {
	orderID := event.OrderID
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		OrderID:         &orderID,
		Payload:         datatypes.JSON(rawBody),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.paymentRepo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return &record, false, nil
	}

	existing, err := s.paymentRepo.FindEvent(ctx, s.db, provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return &record, false, nil
	}
	// An earlier delivery that failed mid-way is processed again.
	return existing, existing.ProcessedAt != nil, nil
}

// PollVerify asks the gateway for the status of a pending purchase and
// applies it the same way a webhook would.
func (s *Service) PollVerify(ctx context.Context, transactionID, accountID string) (*txndomain.Transaction, error) {
	owner, err := ledgerdomain.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	txn, err := s.txnSvc.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.AccountID != owner {
		s.log.Warn("verify for foreign transaction",
			zap.String("transaction_id", transactionID),
			zap.String("account_id", accountID),
		)
		if s.auditSvc != nil {
			targetID := txn.ID.String()
			actorID := owner.String()
			if err := s.auditSvc.AuditLog(ctx, &owner, auditdomain.ActorTypeUser, &actorID, "payment.verify.ownership_mismatch", "transaction", &targetID, nil); err != nil {
				s.log.Warn("audit ownership mismatch failed", zap.Error(err))
			}
		}
		return nil, txndomain.ErrNotFound
	}

	if txn.Status.Terminal() || txn.ExternalPaymentID == nil {
		return txn, nil
	}

	gateway, err := s.gateways.Gateway(txn.Provider)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	status, err := gateway.VerifyStatus(ctx, *txn.ExternalPaymentID)
	s.obsMetrics.ObserveGatewayCall(ctx, gateway.Provider(), "verify_status", time.Since(start))
	if err != nil {
		return nil, err
	}

	outcome := settlementdomain.OutcomeFromStatus(status)
	if outcome == settlementdomain.OutcomeUnknown || string(status) == string(txn.Status) {
		return txn, nil
	}

	result, err := s.Apply(ctx, settlementdomain.Event{
		OrderID:           txn.ID.String(),
		ExternalPaymentID: *txn.ExternalPaymentID,
		Outcome:           outcome,
		Source:            settlementdomain.SourcePoll,
	})
	if err != nil {
		return nil, err
	}
	return result.Transaction, nil
}
