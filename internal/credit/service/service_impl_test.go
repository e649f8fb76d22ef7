package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/fortuna/internal/ledger/repository"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	repo  ledgerdomain.Repository
	meter creditdomain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	db := dbtest.Open(t)
	repo := ledgerrepo.Provide()
	meter := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repo,
	})
	return &fixture{db: db, node: node, repo: repo, meter: meter}
}

func (f *fixture) account(t *testing.T, credits int64) snowflake.ID {
	t.Helper()

	id := f.node.Generate()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := f.repo.InsertAccount(context.Background(), f.db, &ledgerdomain.Account{
		ID:                id,
		AvailableCredits:  credits,
		SubscriptionState: ledgerdomain.SubscriptionStateNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return id
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) *ledgerdomain.Account {
	t.Helper()

	account, err := f.repo.FindAccount(context.Background(), f.db, id)
	if err != nil || account == nil {
		t.Fatalf("find account: %v", err)
	}
	return account
}

func TestGrantPurchaseAppliesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 0)
	grant := creditdomain.Grant{TransactionID: f.node.Generate(), Credits: 10}

	for i := 0; i < 3; i++ {
		granted, err := f.meter.GrantPurchase(ctx, accountID, grant)
		if err != nil {
			t.Fatalf("grant %d: %v", i, err)
		}
		if granted != (i == 0) {
			t.Fatalf("grant %d: expected granted=%v, got %v", i, i == 0, granted)
		}
	}

	account := f.balance(t, accountID)
	if account.AvailableCredits != 10 || account.TotalCreditsPurchased != 10 {
		t.Fatalf("expected 10/10, got %d/%d", account.AvailableCredits, account.TotalCreditsPurchased)
	}
}

func TestGrantThenReverseRestoresBalance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 2)
	grant := creditdomain.Grant{TransactionID: f.node.Generate(), Credits: 12}

	if _, err := f.meter.GrantPurchase(ctx, accountID, grant); err != nil {
		t.Fatalf("grant: %v", err)
	}
	reversal, err := f.meter.ReversePurchase(ctx, accountID, grant)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversal.Applied != 12 || reversal.Gap() != 0 {
		t.Fatalf("unexpected reversal %+v", reversal)
	}

	account := f.balance(t, accountID)
	if account.AvailableCredits != 2 {
		t.Fatalf("expected pre-purchase balance 2, got %d", account.AvailableCredits)
	}
	if account.TotalCreditsPurchased != 12 {
		t.Fatalf("expected purchased total to stay 12, got %d", account.TotalCreditsPurchased)
	}

	again, err := f.meter.ReversePurchase(ctx, accountID, grant)
	if err != nil {
		t.Fatalf("reverse again: %v", err)
	}
	if !again.AlreadyApplied || again.Applied != 12 {
		t.Fatalf("expected replayed reversal to report prior application, got %+v", again)
	}
	if got := f.balance(t, accountID).AvailableCredits; got != 2 {
		t.Fatalf("expected balance unchanged by replay, got %d", got)
	}
}

func TestReverseAfterSpendReportsGap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 0)
	grant := creditdomain.Grant{TransactionID: f.node.Generate(), Credits: 12}

	if _, err := f.meter.GrantPurchase(ctx, accountID, grant); err != nil {
		t.Fatalf("grant: %v", err)
	}
	for i := 0; i < 9; i++ {
		result, err := f.meter.DebitForUsage(ctx, accountID, f.node.Generate())
		if err != nil || result != creditdomain.DebitOK {
			t.Fatalf("debit %d: %v %v", i, result, err)
		}
	}

	reversal, err := f.meter.ReversePurchase(ctx, accountID, grant)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversal.Applied != 3 || reversal.Gap() != 9 {
		t.Fatalf("expected 3 applied with gap 9, got %+v", reversal)
	}
	if got := f.balance(t, accountID).AvailableCredits; got != 0 {
		t.Fatalf("expected floor at 0, got %d", got)
	}
}

func TestConcurrentDebitsExactlyBalance(t *testing.T) {
	f := setup(t)
	accountID := f.account(t, 4)

	const attempts = 12
	results := make(chan creditdomain.DebitResult, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		unitID := f.node.Generate()
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.meter.DebitForUsage(context.Background(), accountID, unitID)
			if err != nil {
				t.Errorf("debit: %v", err)
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	counts := map[creditdomain.DebitResult]int{}
	for result := range results {
		counts[result]++
	}
	if counts[creditdomain.DebitOK] != 4 || counts[creditdomain.DebitInsufficientCredits] != attempts-4 {
		t.Fatalf("expected 4 ok and %d insufficient, got %v", attempts-4, counts)
	}
	if got := f.balance(t, accountID).AvailableCredits; got != 0 {
		t.Fatalf("expected 0 credits, got %d", got)
	}
}

func TestRefundUsageRequiresDebitAndIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 1)
	unitID := f.node.Generate()

	if _, err := f.meter.RefundUsage(ctx, accountID, unitID); !errors.Is(err, creditdomain.ErrDebitNotFound) {
		t.Fatalf("expected ErrDebitNotFound, got %v", err)
	}

	if result, err := f.meter.DebitForUsage(ctx, accountID, unitID); err != nil || result != creditdomain.DebitOK {
		t.Fatalf("debit: %v %v", result, err)
	}
	refunded, err := f.meter.RefundUsage(ctx, accountID, unitID)
	if err != nil || !refunded {
		t.Fatalf("expected refund, got %v %v", refunded, err)
	}
	refunded, err = f.meter.RefundUsage(ctx, accountID, unitID)
	if err != nil || refunded {
		t.Fatalf("expected replayed refund to be a no-op, got %v %v", refunded, err)
	}
	if got := f.balance(t, accountID).AvailableCredits; got != 1 {
		t.Fatalf("expected balance 1, got %d", got)
	}
}

func TestGrantTrialOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 0)

	if err := f.meter.GrantTrial(ctx, accountID); err != nil {
		t.Fatalf("grant trial: %v", err)
	}
	if err := f.meter.GrantTrial(ctx, accountID); !errors.Is(err, creditdomain.ErrTrialAlreadyGranted) {
		t.Fatalf("expected ErrTrialAlreadyGranted, got %v", err)
	}

	account := f.balance(t, accountID)
	if account.AvailableCredits != 1 || account.TotalCreditsPurchased != 0 || account.TrialGrantedAt == nil {
		t.Fatalf("unexpected account after trial %+v", account)
	}
}

func TestAdminGrant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 0)

	if _, err := f.meter.AdminGrant(ctx, creditdomain.AdminGrantRequest{AccountID: accountID.String(), Credits: 5}); !errors.Is(err, creditdomain.ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}

	entry, err := f.meter.AdminGrant(ctx, creditdomain.AdminGrantRequest{
		AccountID: accountID.String(),
		Credits:   5,
		Actor:     "ops@fortuna",
		Reason:    "goodwill",
	})
	if err != nil {
		t.Fatalf("admin grant: %v", err)
	}
	if entry.SourceType != ledgerdomain.SourceTypeAdminGrant || entry.Delta != 5 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if got := f.balance(t, accountID).AvailableCredits; got != 5 {
		t.Fatalf("expected 5 credits, got %d", got)
	}
}

func TestWithTxRollsBackWithCaller(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accountID := f.account(t, 0)
	grant := creditdomain.Grant{TransactionID: f.node.Generate(), Credits: 10}

	errAbort := errors.New("abort")
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.meter.WithTx(tx).GrantPurchase(ctx, accountID, grant); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort, got %v", err)
	}
	if got := f.balance(t, accountID).AvailableCredits; got != 0 {
		t.Fatalf("expected grant rolled back, got %d", got)
	}

	granted, err := f.meter.GrantPurchase(ctx, accountID, grant)
	if err != nil || !granted {
		t.Fatalf("expected grant after rollback, got %v %v", granted, err)
	}
}
