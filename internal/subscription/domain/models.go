// Package domain contains the recurring billing record opened by settled
// subscription purchases.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

const PlanMonthly = "monthly"

// Subscription is one paid billing period, keyed by the transaction that paid it.
type Subscription struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	AccountID     snowflake.ID `json:"account_id" gorm:"not null;index"`
	TransactionID snowflake.ID `json:"transaction_id" gorm:"not null;uniqueIndex"`
	Status        Status       `json:"status" gorm:"type:text;not null"`
	PlanType      string       `json:"plan_type" gorm:"type:text;not null"`
	Amount        int64        `json:"amount" gorm:"not null"`
	Currency      string       `json:"currency" gorm:"type:text;not null"`
	StartedAt     time.Time    `json:"started_at" gorm:"not null"`
	RenewsAt      time.Time    `json:"renews_at" gorm:"not null"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

type OpenRequest struct {
	AccountID     snowflake.ID
	TransactionID snowflake.ID
	Amount        int64
	Currency      string
	Now           time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) (bool, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*Subscription, error)
	FindActive(ctx context.Context, db *gorm.DB, accountID snowflake.ID, at time.Time) (*Subscription, error)
	ExpireDue(ctx context.Context, db *gorm.DB, at time.Time) (int64, error)
}

type Service interface {
	// OpenOrExtend runs on db so it joins the caller's settlement transaction.
	// The bool reports whether this call opened the record.
	OpenOrExtend(ctx context.Context, db *gorm.DB, req OpenRequest) (*Subscription, bool, error)
	GetActive(ctx context.Context, accountID string) (*Subscription, error)
	// ExpireDue flips lapsed subscriptions and their accounts to expired.
	ExpireDue(ctx context.Context) (int64, error)
}

var (
	ErrNotFound       = errors.New("subscription_not_found")
	ErrInvalidRequest = errors.New("invalid_subscription_request")
)
