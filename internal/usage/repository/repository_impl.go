package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, unit *domain.Unit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_units (
			id, account_id, kind, prompt, locale, status, credits_used,
			result_text, audio_url, error_message, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unit.ID,
		unit.AccountID,
		unit.Kind,
		unit.Prompt,
		unit.Locale,
		unit.Status,
		unit.CreditsUsed,
		unit.ResultText,
		unit.AudioURL,
		unit.ErrorMessage,
		unit.CreatedAt,
		unit.UpdatedAt,
		unit.CompletedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Unit, error) {
	var item domain.Unit
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, kind, prompt, locale, status, credits_used,
			result_text, audio_url, error_message, created_at, updated_at, completed_at
		 FROM usage_units
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

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_units
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Finish moves a unit that has not finished yet into a terminal status.
func (r *repo) Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, finish domain.Finish, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_units
		 SET status = ?, result_text = ?, audio_url = ?, error_message = ?,
			completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		finish.Status,
		finish.ResultText,
		finish.AudioURL,
		finish.ErrorMessage,
		finish.CompletedAt,
		now,
		id,
		domain.StatusPending,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_units SET updated_at = ? WHERE id = ? AND status = ?`,
		now,
		id,
		domain.StatusPending,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Unit, error) {
	query := db.WithContext(ctx).
		Model(&domain.Unit{}).
		Where("account_id = ?", filter.AccountID)
	if filter.Cursor != nil {
		query = query.Where(
			"((created_at < ?) OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	var items []domain.Unit
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

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, status domain.Status, before time.Time, limit int) ([]domain.Unit, error) {
	var items []domain.Unit
	err := db.WithContext(ctx).
		Model(&domain.Unit{}).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
