package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/ledger/domain"
	"gorm.io/gorm"
)

// maxCASAttempts bounds the optimistic retry loop in DecrementFloor.
const maxCASAttempts = 5

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, account *domain.Account) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO accounts (
			id, available_credits, total_credits_purchased, subscription_state,
			subscription_renews_at, is_guest, trial_granted_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		account.ID,
		account.AvailableCredits,
		account.TotalCreditsPurchased,
		account.SubscriptionState,
		account.SubscriptionRenewsAt,
		account.IsGuest,
		account.TrialGrantedAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var item domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, available_credits, total_credits_purchased, subscription_state,
			subscription_renews_at, is_guest, trial_granted_at, created_at, updated_at
		 FROM accounts
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) error {
	if credits <= 0 {
		return domain.ErrInvalidCredits
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET available_credits = available_credits + ?,
			total_credits_purchased = total_credits_purchased + ?,
			updated_at = ?
		 WHERE id = ?`,
		credits,
		credits,
		now,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// Decrement reports false, without mutating, when the balance is short.
func (r *repo) Decrement(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) (bool, error) {
	if credits <= 0 {
		return false, domain.ErrInvalidCredits
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET available_credits = available_credits - ?,
			updated_at = ?
		 WHERE id = ? AND available_credits >= ?`,
		credits,
		now,
		id,
		credits,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if err := r.ensureAccount(ctx, db, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *repo) Restore(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) error {
	if credits <= 0 {
		return domain.ErrInvalidCredits
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET available_credits = available_credits + ?,
			updated_at = ?
		 WHERE id = ?`,
		credits,
		now,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// DecrementFloor removes up to credits, never going below zero, and returns
// the amount removed. The update is guarded by the observed balance and
// retried when another writer got there first.
func (r *repo) DecrementFloor(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64, now time.Time) (int64, error) {
	if credits <= 0 {
		return 0, domain.ErrInvalidCredits
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		account, err := r.FindAccount(ctx, db, id)
		if err != nil {
			return 0, err
		}
		if account == nil {
			return 0, domain.ErrAccountNotFound
		}

		take := credits
		if account.AvailableCredits < take {
			take = account.AvailableCredits
		}
		if take == 0 {
			return 0, nil
		}

		res := db.WithContext(ctx).Exec(
			`UPDATE accounts
			 SET available_credits = available_credits - ?,
				updated_at = ?
			 WHERE id = ? AND available_credits = ?`,
			take,
			now,
			id,
			account.AvailableCredits,
		)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected > 0 {
			return take, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	return 0, domain.ErrLedgerContention
}

func (r *repo) MarkTrialGranted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET trial_granted_at = ?, updated_at = ?
		 WHERE id = ? AND trial_granted_at IS NULL`,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if err := r.ensureAccount(ctx, db, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *repo) UpdateSubscriptionState(ctx context.Context, db *gorm.DB, id snowflake.ID, state domain.SubscriptionState, renewsAt *time.Time, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET subscription_state = ?, subscription_renews_at = ?, updated_at = ?
		 WHERE id = ?`,
		state,
		renewsAt,
		now,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO credit_ledger_entries (
			id, account_id, source_type, source_id, delta, requested, actor, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_id) DO NOTHING`,
		entry.ID,
		entry.AccountID,
		entry.SourceType,
		entry.SourceID,
		entry.Delta,
		entry.Requested,
		entry.Actor,
		entry.Reason,
		entry.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateEntryDelta(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_ledger_entries SET delta = ? WHERE id = ?`,
		delta,
		id,
	).Error
}

func (r *repo) FindEntry(ctx context.Context, db *gorm.DB, sourceType domain.SourceType, sourceID string) (*domain.Entry, error) {
	var item domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, source_type, source_id, delta, requested, actor, reason, created_at
		 FROM credit_ledger_entries
		 WHERE source_type = ? AND source_id = ?
		 LIMIT 1`,
		sourceType,
		sourceID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, filter domain.EntryFilter) ([]domain.Entry, error) {
	query := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("account_id = ?", filter.AccountID)
	if filter.Cursor != nil {
		query = query.Where(
			"((created_at < ?) OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	var items []domain.Entry
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(filter.Limit + 1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ensureAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	var count int64
	if err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM accounts WHERE id = ?`, id).Scan(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
