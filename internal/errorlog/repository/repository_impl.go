package repository

import (
	"context"

	"github.com/smallbiznis/fortuna/internal/errorlog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.ErrorLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO error_logs (
			id, error_type, message, endpoint, severity, account_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ErrorType,
		entry.Message,
		entry.Endpoint,
		entry.Severity,
		entry.AccountID,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}
