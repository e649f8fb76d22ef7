package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateRequest struct {
	AccountID string `json:"-"`
	Kind      Kind   `json:"kind"`
	Provider  string `json:"-"`
}

type ListRequest struct {
	pagination.Pagination
	AccountID string
	Status    string `form:"status"`
}

type ListResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Transaction, error)
	AttachExternalID(ctx context.Context, transactionID, externalPaymentID, redirectURL string) (*Transaction, error)
	TransitionTo(ctx context.Context, transactionID string, status Status) (*Transaction, error)
	Get(ctx context.Context, transactionID string) (*Transaction, error)
	// GetForAccount hides transactions of other accounts behind ErrNotFound.
	GetForAccount(ctx context.Context, transactionID, accountID string) (*Transaction, error)
	FindByExternalID(ctx context.Context, provider, externalPaymentID string) (*Transaction, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// ListStalePending claims a batch of pending transactions for a status
	// check. Claimed rows are stamped, so the next sweep picks other rows
	// even when the gateway keeps answering pending.
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]Transaction, error)

	WithTx(tx *gorm.DB) Service
}

var (
	ErrInvalidKind       = errors.New("invalid_kind")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrAlreadyAttached   = errors.New("already_attached")
	ErrNotFound          = errors.New("transaction_not_found")
	ErrInvalidID         = errors.New("invalid_transaction_id")
	ErrInvalidExternalID = errors.New("invalid_external_payment_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidProvider   = errors.New("invalid_provider")
)
