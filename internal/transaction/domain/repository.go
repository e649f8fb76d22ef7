package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalPaymentID string) (*Transaction, error)
	// AttachExternalID sets the gateway id only while it is still empty.
	AttachExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalPaymentID string, redirectURL *string, now time.Time) (bool, error)
	// UpdateStatus moves the row from one status to another and reports
	// false when the row was no longer in the from status.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, completedAt *time.Time, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Transaction, error)
	// ListStalePending returns pending, gateway-attached transactions last
	// touched before the cutoff, oldest first.
	ListStalePending(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Transaction, error)
	// TouchPending stamps updated_at on rows that are still pending.
	TouchPending(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) error
}
