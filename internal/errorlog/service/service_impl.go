package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/audit/masking"
	"github.com/smallbiznis/fortuna/internal/clock"
	errorlogdomain "github.com/smallbiznis/fortuna/internal/errorlog/domain"
	obscontext "github.com/smallbiznis/fortuna/internal/observability/context"
	"github.com/smallbiznis/fortuna/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxMessageLength = 2000

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  errorlogdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  errorlogdomain.Repository
}

func NewService(p Params) errorlogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("errorlog.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record persists an operational error. A failed write is logged and
// returned; callers on money paths treat it as best effort.
func (s *Service) Record(ctx context.Context, entry errorlogdomain.Entry) error {
	errorType := strings.TrimSpace(entry.ErrorType)
	message := strings.TrimSpace(entry.Message)
	if errorType == "" || message == "" {
		return errorlogdomain.ErrInvalidEntry
	}
	if len(message) > maxMessageLength {
		message = message[:maxMessageLength]
	}

	severity := normalizeSeverity(entry.Severity)
	payload := masking.MaskMetadata(entry.Metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	record := errorlogdomain.ErrorLog{
		ID:        s.genID.Generate(),
		ErrorType: errorType,
		Message:   message,
		Severity:  severity,
		AccountID: entry.AccountID,
		Metadata:  datatypes.JSONMap(payload),
		CreatedAt: s.clock.Now(),
	}
	if endpoint := strings.TrimSpace(entry.Endpoint); endpoint != "" {
		record.Endpoint = &endpoint
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("error_type", errorType),
		zap.String("severity", string(severity)),
	)
	if severity == errorlogdomain.SeverityCritical || severity == errorlogdomain.SeverityHigh {
		log.Error(message)
	} else {
		log.Warn(message)
	}

	if err := s.repo.Insert(ctx, s.db, &record); err != nil {
		log.Warn("failed to persist error log", zap.Error(err))
		return err
	}
	return nil
}

func normalizeSeverity(severity errorlogdomain.Severity) errorlogdomain.Severity {
	switch errorlogdomain.Severity(strings.ToLower(strings.TrimSpace(string(severity)))) {
	case errorlogdomain.SeverityLow:
		return errorlogdomain.SeverityLow
	case errorlogdomain.SeverityHigh:
		return errorlogdomain.SeverityHigh
	case errorlogdomain.SeverityCritical:
		return errorlogdomain.SeverityCritical
	default:
		return errorlogdomain.SeverityMedium
	}
}
