package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/smallbiznis/fortuna/internal/config"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
	"github.com/smallbiznis/fortuna/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var descriptions = map[txndomain.Kind]string{
	txndomain.KindSingle:       "Single Reading",
	txndomain.KindSubscription: "Monthly Subscription - 12 Readings",
	txndomain.KindTopup:        "Top-Up Package - 10 Readings",
}

type Params struct {
	fx.In

	Log         *zap.Logger
	LedgerSvc   ledgerdomain.Service
	TxnSvc      txndomain.Service
	Gateways    *adapters.Registry
	CheckoutCfg *config.CheckoutConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Checkout struct {
	log         *zap.Logger
	ledgerSvc   ledgerdomain.Service
	txnSvc      txndomain.Service
	gateways    *adapters.Registry
	checkoutCfg *config.CheckoutConfigHolder
	obsMetrics  *obsmetrics.Metrics
}

func NewCheckout(p Params) paymentdomain.Checkout {
	return &Checkout{
		log:         p.Log.Named("payment.checkout"),
		ledgerSvc:   p.LedgerSvc,
		txnSvc:      p.TxnSvc,
		gateways:    p.Gateways,
		checkoutCfg: p.CheckoutCfg,
		obsMetrics:  p.ObsMetrics,
	}
}

// CreatePurchase records a pending transaction and opens a gateway session
// for it. The gateway is not retried; a failed session fails the transaction.
func (s *Checkout) CreatePurchase(ctx context.Context, req paymentdomain.CreatePurchaseRequest) (*paymentdomain.PurchaseResult, error) {
	account, err := s.ledgerSvc.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Default()
	if err != nil {
		return nil, err
	}

	txn, err := s.txnSvc.Create(ctx, txndomain.CreateRequest{
		AccountID: account.ID.String(),
		Kind:      txndomain.Kind(req.Kind),
		Provider:  gateway.Provider(),
	})
	if err != nil {
		return nil, err
	}

	orderID := txn.ID.String()
	checkoutCfg := s.checkoutCfg.Get()
	start := time.Now()
	session, err := gateway.CreateSession(ctx, paymentdomain.SessionRequest{
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		OrderID:     orderID,
		CustomerID:  account.ID.String(),
		ReturnURL:   checkoutCfg.ReturnURL(orderID),
		CancelURL:   checkoutCfg.CancelURL(orderID),
		Description: descriptions[txn.Kind],
		Metadata: map[string]string{
			"transaction_type": string(txn.Kind),
			"credits":          strconv.FormatInt(txn.CreditsGranted, 10),
		},
	})
	s.obsMetrics.ObserveGatewayCall(ctx, gateway.Provider(), "create_session", time.Since(start))
	if err != nil {
		s.log.Warn("gateway session failed",
			zap.String("transaction_id", orderID),
			zap.String("provider", gateway.Provider()),
			zap.Error(err),
		)
		if _, failErr := s.txnSvc.TransitionTo(ctx, orderID, txndomain.StatusFailed); failErr != nil {
			s.log.Error("failed to mark transaction failed", zap.String("transaction_id", orderID), zap.Error(failErr))
		}
		if errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, errors.Join(paymentdomain.ErrGatewayUnavailable, err)
	}

	txn, err = s.txnSvc.AttachExternalID(ctx, orderID, session.ExternalPaymentID, session.RedirectURL)
	if err != nil {
		return nil, err
	}

	s.log.Info("purchase created",
		zap.String("transaction_id", orderID),
		zap.String("kind", string(txn.Kind)),
		zap.String("provider", gateway.Provider()),
	)
	return &paymentdomain.PurchaseResult{
		TransactionID: orderID,
		RedirectURL:   session.RedirectURL,
	}, nil
}
