package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonLockTimeout          = "lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonCheckViolation       = "check_violation"
	ReasonNotFound             = "not_found"
	ReasonUnknown              = "unknown"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasSQLState(err, "23505") {
		return true
	}

	msg := err.Error()
	// SQLite 2067
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsSerializationFailure reports errors a caller may retry as a whole transaction.
func IsSerializationFailure(err error) bool {
	return hasSQLState(err, "40001") || hasSQLState(err, "40P01")
}

func IsCheckViolation(err error) bool {
	if hasSQLState(err, "23514") {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "CHECK constraint failed")
}

// ClassifyError maps store errors to a low-cardinality reason.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ReasonNotFound
	case hasSQLState(err, "55P03"):
		return ReasonLockTimeout
	case IsSerializationFailure(err):
		return ReasonSerializationFailure
	case IsDuplicateKeyErr(err):
		return ReasonUniqueViolation
	case IsCheckViolation(err):
		return ReasonCheckViolation
	default:
		return ReasonUnknown
	}
}

// hasSQLState checks both postgres drivers in use: pgx for gorm, lib/pq for migrations.
func hasSQLState(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}
