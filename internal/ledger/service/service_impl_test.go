package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/fortuna/internal/clock"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	"github.com/smallbiznis/fortuna/internal/ledger/repository"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) ledgerdomain.Service {
	t.Helper()
	return NewService(Params{
		DB:    dbtest.Open(t),
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestProvisionIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	account, created, err := svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "1001", IsGuest: true})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !created || account.AvailableCredits != 0 || !account.IsGuest {
		t.Fatalf("unexpected provision result created=%v account=%+v", created, account)
	}

	again, created, err := svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "1001"})
	if err != nil {
		t.Fatalf("provision again: %v", err)
	}
	if created {
		t.Fatalf("expected second provision to find the existing account")
	}
	if !again.IsGuest {
		t.Fatalf("expected existing guest flag to be kept")
	}
}

func TestGetAccountErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetAccount(ctx, "not-a-number"); !errors.Is(err, ledgerdomain.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
	if _, err := svc.GetAccount(ctx, "42"); !errors.Is(err, ledgerdomain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestListEntriesRejectsBadToken(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ListEntries(context.Background(), ledgerdomain.ListEntriesRequest{
		AccountID:  "1001",
		Pagination: pagination.Pagination{PageToken: "garbage"},
	})
	if !errors.Is(err, pagination.ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
