package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, account_id, transaction_id, status, plan_type, amount, currency,
			started_at, renews_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		subscription.ID,
		subscription.AccountID,
		subscription.TransactionID,
		subscription.Status,
		subscription.PlanType,
		subscription.Amount,
		subscription.Currency,
		subscription.StartedAt,
		subscription.RenewsAt,
		subscription.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, transaction_id, status, plan_type, amount, currency,
			started_at, renews_at, created_at
		 FROM subscriptions
		 WHERE transaction_id = ?
		 LIMIT 1`,
		transactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, accountID snowflake.ID, at time.Time) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, transaction_id, status, plan_type, amount, currency,
			started_at, renews_at, created_at
		 FROM subscriptions
		 WHERE account_id = ? AND status = ? AND renews_at > ?
		 ORDER BY renews_at DESC
		 LIMIT 1`,
		accountID,
		domain.StatusActive,
		at,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ExpireDue(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?
		 WHERE status = ? AND renews_at <= ?`,
		domain.StatusExpired,
		domain.StatusActive,
		at,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	expired := res.RowsAffected

	err := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET subscription_state = 'expired', updated_at = ?
		 WHERE subscription_state = 'active' AND subscription_renews_at IS NOT NULL AND subscription_renews_at <= ?`,
		at,
		at,
	).Error
	if err != nil {
		return 0, err
	}
	return expired, nil
}
