package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/ledger/domain"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, db *gorm.DB, repo domain.Repository, id snowflake.ID, credits int64) {
	t.Helper()

	created, err := repo.InsertAccount(context.Background(), db, &domain.Account{
		ID:                id,
		AvailableCredits:  credits,
		SubscriptionState: domain.SubscriptionStateNone,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	if !created {
		t.Fatalf("expected account to be created")
	}
}

func balance(t *testing.T, db *gorm.DB, repo domain.Repository, id snowflake.ID) *domain.Account {
	t.Helper()

	account, err := repo.FindAccount(context.Background(), db, id)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if account == nil {
		t.Fatalf("account %s missing", id)
	}
	return account
}

func TestConcurrentDecrementNeverOverdraws(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	seedAccount(t, db, repo, 1, 3)

	const workers = 10
	var wg sync.WaitGroup
	var succeeded, refused atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Decrement(context.Background(), db, 1, 1, testNow)
			if err != nil {
				t.Errorf("decrement: %v", err)
				return
			}
			if ok {
				succeeded.Add(1)
			} else {
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 3 || refused.Load() != workers-3 {
		t.Fatalf("expected 3 successes and %d refusals, got %d and %d", workers-3, succeeded.Load(), refused.Load())
	}
	if got := balance(t, db, repo, 1).AvailableCredits; got != 0 {
		t.Fatalf("expected empty balance, got %d", got)
	}
}

func TestDecrementUnknownAccount(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()

	if _, err := repo.Decrement(context.Background(), db, 99, 1, testNow); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := repo.Increment(context.Background(), db, 99, 1, testNow); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestIncrementTracksPurchasedTotal(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	seedAccount(t, db, repo, 1, 0)
	ctx := context.Background()

	if err := repo.Increment(ctx, db, 1, 10, testNow); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := repo.Restore(ctx, db, 1, 1, testNow); err != nil {
		t.Fatalf("restore: %v", err)
	}

	account := balance(t, db, repo, 1)
	if account.AvailableCredits != 11 {
		t.Fatalf("expected 11 available, got %d", account.AvailableCredits)
	}
	if account.TotalCreditsPurchased != 10 {
		t.Fatalf("expected 10 purchased, got %d", account.TotalCreditsPurchased)
	}
}

func TestNonPositiveCreditsRejected(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	seedAccount(t, db, repo, 1, 5)
	ctx := context.Background()

	if err := repo.Increment(ctx, db, 1, 0, testNow); !errors.Is(err, domain.ErrInvalidCredits) {
		t.Fatalf("expected ErrInvalidCredits, got %v", err)
	}
	if _, err := repo.Decrement(ctx, db, 1, -1, testNow); !errors.Is(err, domain.ErrInvalidCredits) {
		t.Fatalf("expected ErrInvalidCredits, got %v", err)
	}
}

func TestDecrementFloorClampsAtZero(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	seedAccount(t, db, repo, 1, 4)
	ctx := context.Background()

	applied, err := repo.DecrementFloor(ctx, db, 1, 12, testNow)
	if err != nil {
		t.Fatalf("decrement floor: %v", err)
	}
	if applied != 4 {
		t.Fatalf("expected 4 applied, got %d", applied)
	}

	applied, err = repo.DecrementFloor(ctx, db, 1, 12, testNow)
	if err != nil {
		t.Fatalf("decrement floor on empty: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected nothing applied, got %d", applied)
	}
	if got := balance(t, db, repo, 1).AvailableCredits; got != 0 {
		t.Fatalf("expected empty balance, got %d", got)
	}
}

func TestMarkTrialGrantedOnce(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	seedAccount(t, db, repo, 1, 0)
	ctx := context.Background()

	first, err := repo.MarkTrialGranted(ctx, db, 1, testNow)
	if err != nil || !first {
		t.Fatalf("expected first stamp, got %v %v", first, err)
	}
	second, err := repo.MarkTrialGranted(ctx, db, 1, testNow)
	if err != nil || second {
		t.Fatalf("expected second stamp to be refused, got %v %v", second, err)
	}
}

func TestInsertEntryUniquePerSource(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	seedAccount(t, db, repo, 1, 0)
	ctx := context.Background()

	entry := domain.Entry{
		ID:         10,
		AccountID:  1,
		SourceType: domain.SourceTypePurchase,
		SourceID:   "777",
		Delta:      10,
		Requested:  10,
		CreatedAt:  testNow,
	}
	inserted, err := repo.InsertEntry(ctx, db, &entry)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got %v %v", inserted, err)
	}

	entry.ID = 11
	inserted, err = repo.InsertEntry(ctx, db, &entry)
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate source to be ignored")
	}

	found, err := repo.FindEntry(ctx, db, domain.SourceTypePurchase, "777")
	if err != nil || found == nil || found.ID != 10 {
		t.Fatalf("expected original entry, got %+v %v", found, err)
	}
}

func TestListEntriesNewestFirst(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide()
	seedAccount(t, db, repo, 1, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.InsertEntry(ctx, db, &domain.Entry{
			ID:         snowflake.ID(100 + i),
			AccountID:  1,
			SourceType: domain.SourceTypeAdminGrant,
			SourceID:   snowflake.ID(100 + i).String(),
			Delta:      1,
			Requested:  1,
			CreatedAt:  testNow.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert entry: %v", err)
		}
	}

	items, err := repo.ListEntries(ctx, db, domain.EntryFilter{AccountID: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected limit+1 rows, got %d", len(items))
	}
	if items[0].ID != 102 {
		t.Fatalf("expected newest first, got %d", items[0].ID)
	}

	page, err := repo.ListEntries(ctx, db, domain.EntryFilter{
		AccountID: 1,
		Limit:     2,
		Cursor:    &domain.EntryCursor{ID: items[1].ID, CreatedAt: items[1].CreatedAt},
	})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].ID != 100 {
		t.Fatalf("expected oldest entry on next page, got %+v", page)
	}
}
