package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/fortuna/internal/ledger/repository"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	"github.com/smallbiznis/fortuna/internal/transaction/repository"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupService(t *testing.T) (txndomain.Service, *clock.FakeClock, string) {
	t.Helper()

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	accountID := node.Generate()
	_, err = ledgerrepo.Provide().InsertAccount(context.Background(), db, &ledgerdomain.Account{
		ID:                accountID,
		SubscriptionState: ledgerdomain.SubscriptionStateNone,
		CreatedAt:         clk.Now(),
		UpdatedAt:         clk.Now(),
	})
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk, accountID.String()
}

func TestCreateTopupUsesPriceTable(t *testing.T) {
	svc, _, accountID := setupService(t)

	txn, err := svc.Create(context.Background(), txndomain.CreateRequest{AccountID: accountID, Kind: "topup", Provider: "payten"})
	require.NoError(t, err)
	assert.Equal(t, txndomain.StatusPending, txn.Status)
	assert.EqualValues(t, 999, txn.Amount)
	assert.EqualValues(t, 10, txn.CreditsGranted)
	assert.Equal(t, "USD", txn.Currency)
	assert.Nil(t, txn.ExternalPaymentID)
	assert.Nil(t, txn.CompletedAt)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	svc, _, accountID := setupService(t)

	_, err := svc.Create(context.Background(), txndomain.CreateRequest{AccountID: accountID, Kind: "lifetime", Provider: "payten"})
	assert.ErrorIs(t, err, txndomain.ErrInvalidKind)
}

func TestAttachExternalID(t *testing.T) {
	svc, _, accountID := setupService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindSingle, Provider: "payten"})
	require.NoError(t, err)

	attached, err := svc.AttachExternalID(ctx, txn.ID.String(), "pay_1", "https://pay.example/1")
	require.NoError(t, err)
	require.NotNil(t, attached.ExternalPaymentID)
	assert.Equal(t, "pay_1", *attached.ExternalPaymentID)

	_, err = svc.AttachExternalID(ctx, txn.ID.String(), "pay_1", "")
	assert.NoError(t, err, "same id must be idempotent")

	_, err = svc.AttachExternalID(ctx, txn.ID.String(), "pay_2", "")
	assert.ErrorIs(t, err, txndomain.ErrAlreadyAttached)

	found, err := svc.FindByExternalID(ctx, "PAYTEN", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, found.ID)
}

func TestRefundFromPendingRejected(t *testing.T) {
	svc, _, accountID := setupService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindTopup, Provider: "payten"})
	require.NoError(t, err)

	_, err = svc.TransitionTo(ctx, txn.ID.String(), txndomain.StatusRefunded)
	assert.ErrorIs(t, err, txndomain.ErrInvalidTransition)

	current, err := svc.Get(ctx, txn.ID.String())
	require.NoError(t, err)
	assert.Equal(t, txndomain.StatusPending, current.Status)
}

func TestCompletedAtStampedOnce(t *testing.T) {
	svc, clk, accountID := setupService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindSubscription, Provider: "payten"})
	require.NoError(t, err)

	completed, err := svc.TransitionTo(ctx, txn.ID.String(), txndomain.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	stampedAt := *completed.CompletedAt

	_, err = svc.TransitionTo(ctx, txn.ID.String(), txndomain.StatusCompleted)
	assert.ErrorIs(t, err, txndomain.ErrInvalidTransition)

	clk.Advance(time.Hour)
	refunded, err := svc.TransitionTo(ctx, txn.ID.String(), txndomain.StatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, txndomain.StatusRefunded, refunded.Status)
	require.NotNil(t, refunded.CompletedAt)
	assert.True(t, refunded.CompletedAt.Equal(stampedAt))

	for _, next := range []txndomain.Status{txndomain.StatusCompleted, txndomain.StatusFailed, txndomain.StatusRefunded} {
		_, err = svc.TransitionTo(ctx, txn.ID.String(), next)
		assert.ErrorIs(t, err, txndomain.ErrInvalidTransition)
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	svc, _, accountID := setupService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindTopup, Provider: "payten"})
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TransitionTo(ctx, txn.ID.String(), txndomain.StatusCompleted)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, txndomain.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestGetForAccountHidesOtherAccounts(t *testing.T) {
	svc, _, accountID := setupService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindSingle, Provider: "payten"})
	require.NoError(t, err)

	_, err = svc.GetForAccount(ctx, txn.ID.String(), "12345")
	assert.ErrorIs(t, err, txndomain.ErrNotFound)

	owned, err := svc.GetForAccount(ctx, txn.ID.String(), accountID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, owned.ID)
}

func TestConcurrentCreatesAreDistinct(t *testing.T) {
	svc, _, accountID := setupService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan snowflake.ID, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindTopup, Provider: "payten"})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- txn.ID
		}()
	}
	wg.Wait()
	close(ids)

	first, second := <-ids, <-ids
	assert.NotEqual(t, first, second)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, clk, accountID := setupService(t)
	ctx := context.Background()

	var created []snowflake.ID
	for i := 0; i < 3; i++ {
		txn, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindSingle, Provider: "payten"})
		require.NoError(t, err)
		created = append(created, txn.ID)
		clk.Advance(time.Minute)
	}

	page, err := svc.List(ctx, txndomain.ListRequest{AccountID: accountID, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, created[2], page.Transactions[0].ID)

	next, err := svc.List(ctx, txndomain.ListRequest{AccountID: accountID, Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, next.Transactions, 1)
	assert.Equal(t, created[0], next.Transactions[0].ID)
	assert.False(t, next.HasMore)

	_, err = svc.List(ctx, txndomain.ListRequest{AccountID: accountID, Status: "bogus"})
	assert.ErrorIs(t, err, txndomain.ErrInvalidStatus)
}

func TestListStalePendingRotatesThroughBacklog(t *testing.T) {
	svc, clk, accountID := setupService(t)
	ctx := context.Background()

	abandoned, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindSingle, Provider: "payten"})
	require.NoError(t, err)
	_, err = svc.AttachExternalID(ctx, abandoned.ID.String(), "pay_abandoned", "")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	lost, err := svc.Create(ctx, txndomain.CreateRequest{AccountID: accountID, Kind: txndomain.KindTopup, Provider: "payten"})
	require.NoError(t, err)
	_, err = svc.AttachExternalID(ctx, lost.ID.String(), "pay_lost_webhook", "")
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)

	first, err := svc.ListStalePending(ctx, 15*time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, abandoned.ID, first[0].ID)

	// the abandoned checkout stays pending but must not block the next row
	second, err := svc.ListStalePending(ctx, 15*time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, lost.ID, second[0].ID)

	none, err := svc.ListStalePending(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	clk.Advance(16 * time.Minute)
	again, err := svc.ListStalePending(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, again, 2)

	current, err := svc.Get(ctx, abandoned.ID.String())
	require.NoError(t, err)
	assert.Equal(t, txndomain.StatusPending, current.Status)
}
