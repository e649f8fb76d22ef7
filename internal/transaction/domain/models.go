package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindSingle       Kind = "single"
	KindSubscription Kind = "subscription"
	KindTopup        Kind = "topup"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether the gateway can no longer move the status forward
// without a refund.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded || s == StatusFailed
}

type Price struct {
	Amount   int64
	Currency string
	Credits  int64
}

var priceTable = map[Kind]Price{
	KindSingle:       {Amount: 199, Currency: "USD", Credits: 1},
	KindSubscription: {Amount: 999, Currency: "USD", Credits: 12},
	KindTopup:        {Amount: 999, Currency: "USD", Credits: 10},
}

// PriceFor returns the fixed price of kind.
func PriceFor(kind Kind) (Price, error) {
	price, ok := priceTable[kind]
	if !ok {
		return Price{}, ErrInvalidKind
	}
	return price, nil
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRefunded},
}

func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transaction is one purchase attempt. Its ID doubles as the gateway order id.
type Transaction struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	AccountID         snowflake.ID `json:"account_id" gorm:"not null;index"`
	Kind              Kind         `json:"kind" gorm:"type:text;not null"`
	Status            Status       `json:"status" gorm:"type:text;not null"`
	Amount            int64        `json:"amount" gorm:"not null"`
	Currency          string       `json:"currency" gorm:"type:text;not null"`
	CreditsGranted    int64        `json:"credits_granted" gorm:"not null"`
	Provider          string       `json:"provider" gorm:"type:text;not null"`
	ExternalPaymentID *string      `json:"external_payment_id,omitempty"`
	RedirectURL       *string      `json:"redirect_url,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "transactions" }

type ListFilter struct {
	AccountID snowflake.ID
	Status    Status
	Cursor    *Cursor
	Limit     int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
