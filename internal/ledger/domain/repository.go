package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository mutates balances with single conditional statements. Every
// method takes the handle to run on so callers can pass a transaction.
type Repository interface {
	InsertAccount(ctx context.Context, db *gorm.DB, account *Account) (bool, error)
	FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)

	Increment(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) error
	Decrement(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) (bool, error)
	Restore(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) error
	DecrementFloor(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) (int64, error)

	MarkTrialGranted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	UpdateSubscriptionState(ctx context.Context, db *gorm.DB, id snowflake.ID, state SubscriptionState, renewsAt *time.Time, now time.Time) error

	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	UpdateEntryDelta(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64) error
	FindEntry(ctx context.Context, db *gorm.DB, sourceType SourceType, sourceID string) (*Entry, error)
	ListEntries(ctx context.Context, db *gorm.DB, filter EntryFilter) ([]Entry, error)
}
