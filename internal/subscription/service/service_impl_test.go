package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/fortuna/internal/ledger/repository"
	subscriptiondomain "github.com/smallbiznis/fortuna/internal/subscription/domain"
	"github.com/smallbiznis/fortuna/internal/subscription/repository"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	clk     *clock.FakeClock
	node    *snowflake.Node
	ledger  ledgerdomain.Repository
	svc     subscriptiondomain.Service
	account snowflake.ID
}

func setup(t *testing.T) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC))
	ledger := ledgerrepo.Provide()

	account := node.Generate()
	_, err = ledger.InsertAccount(context.Background(), db, &ledgerdomain.Account{
		ID:                account,
		SubscriptionState: ledgerdomain.SubscriptionStateNone,
		CreatedAt:         clk.Now(),
		UpdatedAt:         clk.Now(),
	})
	require.NoError(t, err)

	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		LedgerRepo: ledger,
	})
	return &fixture{db: db, clk: clk, node: node, ledger: ledger, svc: svc, account: account}
}

func TestOpenOrExtendActivatesAccountOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	txnID := f.node.Generate()
	req := subscriptiondomain.OpenRequest{
		AccountID:     f.account,
		TransactionID: txnID,
		Amount:        999,
		Currency:      "usd",
		Now:           f.clk.Now(),
	}

	sub, created, err := f.svc.OpenOrExtend(ctx, f.db, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "USD", sub.Currency)
	assert.Equal(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC), sub.RenewsAt)

	again, created, err := f.svc.OpenOrExtend(ctx, f.db, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sub.ID, again.ID)

	account, err := f.ledger.FindAccount(ctx, f.db, f.account)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SubscriptionStateActive, account.SubscriptionState)
	require.NotNil(t, account.SubscriptionRenewsAt)
	assert.True(t, account.SubscriptionRenewsAt.Equal(sub.RenewsAt))
}

func TestGetActiveAndExpireDue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.GetActive(ctx, f.account.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotFound)

	_, _, err = f.svc.OpenOrExtend(ctx, f.db, subscriptiondomain.OpenRequest{
		AccountID:     f.account,
		TransactionID: f.node.Generate(),
		Amount:        999,
		Currency:      "USD",
		Now:           f.clk.Now(),
	})
	require.NoError(t, err)

	active, err := f.svc.GetActive(ctx, f.account.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, active.Status)

	f.clk.Advance(45 * 24 * time.Hour)
	expired, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)

	_, err = f.svc.GetActive(ctx, f.account.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotFound)

	account, err := f.ledger.FindAccount(ctx, f.db, f.account)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SubscriptionStateExpired, account.SubscriptionState)
}

func TestOpenOrExtendRejectsIncompleteRequest(t *testing.T) {
	f := setup(t)

	_, _, err := f.svc.OpenOrExtend(context.Background(), f.db, subscriptiondomain.OpenRequest{AccountID: f.account})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidRequest)
}
