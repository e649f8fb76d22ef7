package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/fortuna/pkg/db/pagination"
)

type ProvisionRequest struct {
	AccountID string `json:"account_id"`
	IsGuest   bool   `json:"is_guest"`
}

type ListEntriesRequest struct {
	pagination.Pagination
	AccountID string
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Service interface {
	// Provision creates the account with a zero balance. The bool reports
	// whether this call created it.
	Provision(ctx context.Context, req ProvisionRequest) (*Account, bool, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
}

var (
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidCredits      = errors.New("invalid_credits")
	ErrLedgerContention    = errors.New("ledger_contention")
	ErrInvalidSubscription = errors.New("invalid_subscription_state")
)
