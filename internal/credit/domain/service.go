package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	"gorm.io/gorm"
)

// UsageCost is the price of one billable invocation.
const UsageCost int64 = 1

// TrialCredits is granted once per account.
const TrialCredits int64 = 1

type DebitResult string

const (
	DebitOK                  DebitResult = "ok"
	DebitInsufficientCredits DebitResult = "insufficient_credits"
)

// Grant identifies the purchase whose credits move.
type Grant struct {
	TransactionID snowflake.ID
	Credits       int64
}

// Reversal reports how much of a refunded grant was actually clawed back.
type Reversal struct {
	Requested      int64
	Applied        int64
	AlreadyApplied bool
}

// Gap is the part of the refund the account had already spent.
func (r Reversal) Gap() int64 {
	if r.AlreadyApplied || r.Applied >= r.Requested {
		return 0
	}
	return r.Requested - r.Applied
}

type AdminGrantRequest struct {
	AccountID string `json:"-"`
	Credits   int64  `json:"credits"`
	Actor     string `json:"-"`
	Reason    string `json:"reason"`
}

type Service interface {
	// GrantPurchase reports false when the transaction was already granted.
	GrantPurchase(ctx context.Context, accountID snowflake.ID, grant Grant) (bool, error)
	ReversePurchase(ctx context.Context, accountID snowflake.ID, grant Grant) (Reversal, error)
	GrantTrial(ctx context.Context, accountID snowflake.ID) error
	DebitForUsage(ctx context.Context, accountID snowflake.ID, unitID snowflake.ID) (DebitResult, error)
	// RefundUsage reports false when the unit was already refunded.
	RefundUsage(ctx context.Context, accountID snowflake.ID, unitID snowflake.ID) (bool, error)
	AdminGrant(ctx context.Context, req AdminGrantRequest) (*ledgerdomain.Entry, error)

	// WithTx binds the meter to the caller's transaction.
	WithTx(tx *gorm.DB) Service
}

var (
	ErrTrialAlreadyGranted = errors.New("trial_already_granted")
	ErrDebitNotFound       = errors.New("usage_debit_not_found")
	ErrDuplicateDebit      = errors.New("duplicate_usage_debit")
	ErrInvalidGrant        = errors.New("invalid_grant")
	ErrInvalidReason       = errors.New("invalid_reason")
)
