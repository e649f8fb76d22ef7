package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorLog is an operational fault kept for manual follow-up.
type ErrorLog struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	ErrorType string            `json:"error_type" gorm:"type:text;not null"`
	Message   string            `json:"message" gorm:"type:text;not null"`
	Endpoint  *string           `json:"endpoint,omitempty"`
	Severity  Severity          `json:"severity" gorm:"type:text;not null"`
	AccountID *snowflake.ID     `json:"account_id,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`
}

func (ErrorLog) TableName() string { return "error_logs" }

type Entry struct {
	ErrorType string
	Message   string
	Endpoint  string
	Severity  Severity
	AccountID *snowflake.ID
	Metadata  map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *ErrorLog) error
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
}

var ErrInvalidEntry = errors.New("invalid_error_log")
