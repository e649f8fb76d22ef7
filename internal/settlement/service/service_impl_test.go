package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
	creditservice "github.com/smallbiznis/fortuna/internal/credit/service"
	errorlogrepo "github.com/smallbiznis/fortuna/internal/errorlog/repository"
	errorlogservice "github.com/smallbiznis/fortuna/internal/errorlog/service"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/fortuna/internal/ledger/repository"
	"github.com/smallbiznis/fortuna/internal/payment/adapters"
	"github.com/smallbiznis/fortuna/internal/payment/adapters/fake"
	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/fortuna/internal/payment/repository"
	settlementdomain "github.com/smallbiznis/fortuna/internal/settlement/domain"
	subscriptionrepo "github.com/smallbiznis/fortuna/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/fortuna/internal/subscription/service"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	txnrepo "github.com/smallbiznis/fortuna/internal/transaction/repository"
	txnservice "github.com/smallbiznis/fortuna/internal/transaction/service"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	gateway *fake.Gateway
	ledger  ledgerdomain.Repository
	txnSvc  txndomain.Service
	meter   creditdomain.Service
	svc     settlementdomain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	ledger := ledgerrepo.Provide()

	txnSvc := txnservice.NewService(txnservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: txnrepo.Provide()})
	meter := creditservice.NewService(creditservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: ledger})
	subscriptions := subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: subscriptionrepo.Provide(), LedgerRepo: ledger,
	})
	errorLogs := errorlogservice.NewService(errorlogservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: errorlogrepo.Provide()})

	gateway := fake.New("whsec")
	registry := adapters.NewRegistry(fake.ProviderName, paymentdomain.GatewayConfig{}, fake.NewFactory(gateway))

	svc := NewService(Params{
		DB:              db,
		Log:             log,
		GenID:           node,
		Clock:           clk,
		TxnSvc:          txnSvc,
		CreditSvc:       meter,
		SubscriptionSvc: subscriptions,
		Gateways:        registry,
		PaymentRepo:     paymentrepo.Provide(),
		ErrorLogSvc:     errorLogs,
	})
	return &fixture{db: db, node: node, clk: clk, gateway: gateway, ledger: ledger, txnSvc: txnSvc, meter: meter, svc: svc}
}

func (f *fixture) account(t *testing.T, credits int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	_, err := f.ledger.InsertAccount(context.Background(), f.db, &ledgerdomain.Account{
		ID:                id,
		AvailableCredits:  credits,
		SubscriptionState: ledgerdomain.SubscriptionStateNone,
		CreatedAt:         f.clk.Now(),
		UpdatedAt:         f.clk.Now(),
	})
	require.NoError(t, err)
	return id
}

// purchase creates a pending transaction attached to a fake gateway payment.
func (f *fixture) purchase(t *testing.T, accountID snowflake.ID, kind txndomain.Kind) *txndomain.Transaction {
	t.Helper()
	ctx := context.Background()
	txn, err := f.txnSvc.Create(ctx, txndomain.CreateRequest{AccountID: accountID.String(), Kind: kind, Provider: fake.ProviderName})
	require.NoError(t, err)
	session, err := f.gateway.CreateSession(ctx, paymentdomain.SessionRequest{OrderID: txn.ID.String(), Amount: txn.Amount, Currency: txn.Currency})
	require.NoError(t, err)
	txn, err = f.txnSvc.AttachExternalID(ctx, txn.ID.String(), session.ExternalPaymentID, session.RedirectURL)
	require.NoError(t, err)
	return txn
}

func (f *fixture) deliver(t *testing.T, eventID string, txn *txndomain.Transaction, status paymentdomain.PaymentStatus) (*settlementdomain.Result, error) {
	t.Helper()
	body := fake.Payload(eventID, txn.ID.String(), *txn.ExternalPaymentID, status)
	return f.svc.OnWebhookEvent(context.Background(), fake.ProviderName, body, f.gateway.Sign(body))
}

func (f *fixture) balance(t *testing.T, accountID snowflake.ID) *ledgerdomain.Account {
	t.Helper()
	account, err := f.ledger.FindAccount(context.Background(), f.db, accountID)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account
}

func TestTopupCompletedGrantsCredits(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindTopup)
	assert.EqualValues(t, 10, txn.CreditsGranted)
	assert.EqualValues(t, 999, txn.Amount)

	result, err := f.deliver(t, "evt_1", txn, paymentdomain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, txndomain.StatusCompleted, result.Transaction.Status)
	assert.NotNil(t, result.Transaction.CompletedAt)

	account := f.balance(t, accountID)
	assert.EqualValues(t, 10, account.AvailableCredits)
	assert.EqualValues(t, 10, account.TotalCreditsPurchased)
}

func TestWebhookReplayGrantsOnce(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindSingle)

	for i := 0; i < 5; i++ {
		_, err := f.deliver(t, "evt_same", txn, paymentdomain.PaymentStatusCompleted)
		require.NoError(t, err)
	}
	// distinct event ids carrying the same outcome are no-ops too
	result, err := f.deliver(t, "evt_other", txn, paymentdomain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.False(t, result.Applied)

	assert.EqualValues(t, 1, f.balance(t, accountID).AvailableCredits)
}

func TestConcurrentCompletionGrantsOnce(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindTopup)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*settlementdomain.Result, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Apply(context.Background(), settlementdomain.Event{
				OrderID: txn.ID.String(),
				Outcome: settlementdomain.OutcomeCompleted,
				Source:  settlementdomain.SourceWebhook,
			})
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			msg := strings.ToLower(errs[i].Error())
			assert.True(t, strings.Contains(msg, "locked") || strings.Contains(msg, "busy"), "unexpected error: %v", errs[i])
			continue
		}
		if results[i].Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.EqualValues(t, 10, f.balance(t, accountID).AvailableCredits)
}

func TestPendingToRefundedIsRejected(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 3)
	txn := f.purchase(t, accountID, txndomain.KindTopup)

	result, err := f.deliver(t, "evt_refund", txn, paymentdomain.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, txndomain.StatusPending, result.Transaction.Status)
	assert.EqualValues(t, 3, f.balance(t, accountID).AvailableCredits)
}

func TestGrantThenFullRefundRestoresBalance(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 2)
	txn := f.purchase(t, accountID, txndomain.KindTopup)

	_, err := f.deliver(t, "evt_paid", txn, paymentdomain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.EqualValues(t, 12, f.balance(t, accountID).AvailableCredits)

	result, err := f.deliver(t, "evt_refunded", txn, paymentdomain.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Zero(t, result.Gap)
	assert.Equal(t, txndomain.StatusRefunded, result.Transaction.Status)
	assert.EqualValues(t, 2, f.balance(t, accountID).AvailableCredits)
}

func TestSubscriptionRefundFloorsAndReportsGap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindSubscription)

	_, err := f.deliver(t, "evt_sub_paid", txn, paymentdomain.PaymentStatusCompleted)
	require.NoError(t, err)
	account := f.balance(t, accountID)
	assert.EqualValues(t, 12, account.AvailableCredits)
	assert.Equal(t, ledgerdomain.SubscriptionStateActive, account.SubscriptionState)

	for i := 0; i < 5; i++ {
		outcome, err := f.meter.DebitForUsage(ctx, accountID, f.node.Generate())
		require.NoError(t, err)
		require.Equal(t, creditdomain.DebitOK, outcome)
	}

	result, err := f.deliver(t, "evt_sub_refunded", txn, paymentdomain.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.EqualValues(t, 5, result.Gap)
	assert.Equal(t, txndomain.StatusRefunded, result.Transaction.Status)

	account = f.balance(t, accountID)
	assert.EqualValues(t, 0, account.AvailableCredits)
	assert.Equal(t, ledgerdomain.SubscriptionStateActive, account.SubscriptionState)

	var gaps int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM error_logs WHERE error_type = ? AND severity = ?`, "reconciliation_gap", "high").Scan(&gaps).Error)
	assert.EqualValues(t, 1, gaps)
}

func TestFailedOutcome(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindSingle)

	result, err := f.deliver(t, "evt_failed", txn, paymentdomain.PaymentStatusFailed)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, txndomain.StatusFailed, result.Transaction.Status)
	assert.Nil(t, result.Transaction.CompletedAt)

	// a late completion cannot revive a failed transaction
	result, err = f.deliver(t, "evt_late", txn, paymentdomain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.EqualValues(t, 0, f.balance(t, accountID).AvailableCredits)
}

func TestWebhookForUnknownTransactionIsAcknowledged(t *testing.T) {
	f := setup(t)
	body := fake.Payload("evt_ghost", f.node.Generate().String(), "fake_ghost", paymentdomain.PaymentStatusCompleted)

	result, err := f.svc.OnWebhookEvent(context.Background(), fake.ProviderName, body, f.gateway.Sign(body))
	require.NoError(t, err)
	assert.False(t, result.Applied)

	_, err = f.svc.Apply(context.Background(), settlementdomain.Event{OrderID: "not-a-number", Outcome: settlementdomain.OutcomeCompleted})
	assert.ErrorIs(t, err, settlementdomain.ErrUnknownTransaction)
}

func TestWebhookInvalidSignature(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindTopup)
	body := fake.Payload("evt_forged", txn.ID.String(), *txn.ExternalPaymentID, paymentdomain.PaymentStatusCompleted)

	_, err := f.svc.OnWebhookEvent(context.Background(), fake.ProviderName, body, "deadbeef")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	var events int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_events`).Scan(&events).Error)
	assert.Zero(t, events)
	assert.EqualValues(t, 0, f.balance(t, accountID).AvailableCredits)
}

func TestApplyIgnoresUnknownOutcome(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Apply(context.Background(), settlementdomain.Event{OrderID: "1", Outcome: settlementdomain.OutcomeUnknown})
	assert.True(t, errors.Is(err, settlementdomain.ErrUnknownOutcome))
}

func TestPollVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindSingle)

	got, err := f.svc.PollVerify(ctx, txn.ID.String(), accountID.String())
	require.NoError(t, err)
	assert.Equal(t, txndomain.StatusPending, got.Status)

	f.gateway.SetStatus(*txn.ExternalPaymentID, paymentdomain.PaymentStatusCompleted)
	got, err = f.svc.PollVerify(ctx, txn.ID.String(), accountID.String())
	require.NoError(t, err)
	assert.Equal(t, txndomain.StatusCompleted, got.Status)
	assert.EqualValues(t, 1, f.balance(t, accountID).AvailableCredits)

	// completed transactions are answered without asking the gateway
	f.gateway.FailVerify(errors.New("down"))
	got, err = f.svc.PollVerify(ctx, txn.ID.String(), accountID.String())
	require.NoError(t, err)
	assert.Equal(t, txndomain.StatusCompleted, got.Status)

	// the webhook arriving after the poll does not grant again
	_, err = f.deliver(t, "evt_after_poll", txn, paymentdomain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.balance(t, accountID).AvailableCredits)
}

func TestPollVerifyHidesForeignTransactions(t *testing.T) {
	f := setup(t)
	owner := f.account(t, 0)
	stranger := f.account(t, 0)
	txn := f.purchase(t, owner, txndomain.KindSingle)

	_, err := f.svc.PollVerify(context.Background(), txn.ID.String(), stranger.String())
	assert.ErrorIs(t, err, txndomain.ErrNotFound)
}

func TestPollVerifyGatewayUnavailable(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 0)
	txn := f.purchase(t, accountID, txndomain.KindSingle)
	f.gateway.FailVerify(errors.New("timeout"))

	_, err := f.svc.PollVerify(context.Background(), txn.ID.String(), accountID.String())
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
}
