package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionState string

const (
	SubscriptionStateNone      SubscriptionState = "none"
	SubscriptionStateActive    SubscriptionState = "active"
	SubscriptionStateCancelled SubscriptionState = "cancelled"
	SubscriptionStateExpired   SubscriptionState = "expired"
	SubscriptionStatePaused    SubscriptionState = "paused"
)

// Account holds the consumable credit balance for one user.
type Account struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	AvailableCredits      int64             `json:"available_credits" gorm:"not null"`
	TotalCreditsPurchased int64             `json:"total_credits_purchased" gorm:"not null"`
	SubscriptionState     SubscriptionState `json:"subscription_state" gorm:"type:text;not null"`
	SubscriptionRenewsAt  *time.Time        `json:"subscription_renews_at,omitempty"`
	IsGuest               bool              `json:"is_guest" gorm:"not null"`
	TrialGrantedAt        *time.Time        `json:"trial_granted_at,omitempty"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time         `json:"updated_at" gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

type SourceType string

const (
	SourceTypePurchase         SourceType = "purchase"
	SourceTypePurchaseReversal SourceType = "purchase_reversal"
	SourceTypeTrial            SourceType = "trial"
	SourceTypeUsageDebit       SourceType = "usage_debit"
	SourceTypeUsageRefund      SourceType = "usage_refund"
	SourceTypeAdminGrant       SourceType = "admin_grant"
)

// Entry is one journal line. (SourceType, SourceID) is unique, so each
// business event moves the balance at most once. Delta is the signed amount
// actually applied to available_credits; Requested is what the event asked for.
type Entry struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	AccountID  snowflake.ID `json:"account_id" gorm:"not null;index"`
	SourceType SourceType   `json:"source_type" gorm:"type:text;not null"`
	SourceID   string       `json:"source_id" gorm:"type:text;not null"`
	Delta      int64        `json:"delta" gorm:"not null"`
	Requested  int64        `json:"requested" gorm:"not null"`
	Actor      *string      `json:"actor,omitempty"`
	Reason     *string      `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "credit_ledger_entries" }

type EntryFilter struct {
	AccountID snowflake.ID
	Cursor    *EntryCursor
	Limit     int
}

type EntryCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ParseAccountID accepts the decimal snowflake form used on the wire.
func ParseAccountID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, ErrInvalidAccount
	}
	return id, nil
}
