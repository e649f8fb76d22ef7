package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
	errorlogdomain "github.com/smallbiznis/fortuna/internal/errorlog/domain"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
	"github.com/smallbiznis/fortuna/internal/usage/domain"
	"github.com/smallbiznis/fortuna/internal/usage/liveevents"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const usageEndpoint = "/api/usage"

var supportedLocales = map[string]struct{}{
	"en": {},
	"tr": {},
	"sr": {},
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	LedgerSvc   ledgerdomain.Service
	CreditSvc   creditdomain.Service
	Dispatcher  domain.Dispatcher
	Hub         *liveevents.Hub        `optional:"true"`
	ErrorLogSvc errorlogdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	ledgerSvc   ledgerdomain.Service
	creditSvc   creditdomain.Service
	dispatcher  domain.Dispatcher
	hub         *liveevents.Hub
	errorLogSvc errorlogdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("usage.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		ledgerSvc:   p.LedgerSvc,
		creditSvc:   p.CreditSvc,
		dispatcher:  p.Dispatcher,
		hub:         p.Hub,
		errorLogSvc: p.ErrorLogSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Consume(ctx context.Context, req domain.ConsumeRequest) (*domain.ConsumeResult, error) {
	kind, prompt, locale, err := validateConsume(req)
	if err != nil {
		return nil, err
	}
	account, err := s.ledgerSvc.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	unitID := s.genID.Generate()
	debit, err := s.creditSvc.DebitForUsage(ctx, account.ID, unitID)
	if err != nil {
		return nil, err
	}
	if debit == creditdomain.DebitInsufficientCredits {
		s.obsMetrics.RecordUsageUnit(ctx, string(domain.OutcomeInsufficientCredits))
		return &domain.ConsumeResult{Outcome: domain.OutcomeInsufficientCredits}, nil
	}

	now := s.clock.Now()
	unit := &domain.Unit{
		ID:          unitID,
		AccountID:   account.ID,
		Kind:        kind,
		Prompt:      prompt,
		Locale:      locale,
		Status:      domain.StatusPending,
		CreditsUsed: creditdomain.UsageCost,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, unit); err != nil {
		s.log.Error("usage unit insert failed, refunding debit",
			zap.String("usage_unit_id", unitID.String()),
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		if _, refundErr := s.creditSvc.RefundUsage(ctx, account.ID, unitID); refundErr != nil {
			s.log.Error("usage refund failed",
				zap.String("usage_unit_id", unitID.String()),
				zap.Error(refundErr),
			)
			return nil, errors.Join(err, refundErr)
		}
		s.recordError(ctx, "usage_unit_creation_error", err.Error(), errorlogdomain.SeverityHigh, account.ID, unitID)
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, unit); err != nil {
		s.log.Warn("usage dispatch failed, unit left pending",
			zap.String("usage_unit_id", unitID.String()),
			zap.Error(err),
		)
		s.recordError(ctx, "usage_dispatch_error", err.Error(), errorlogdomain.SeverityMedium, account.ID, unitID)
	}

	s.publish(unit)
	s.obsMetrics.RecordUsageUnit(ctx, string(domain.OutcomeAccepted))
	return &domain.ConsumeResult{
		Outcome:     domain.OutcomeAccepted,
		UsageUnitID: unitID.String(),
	}, nil
}

func (s *Service) MarkProcessing(ctx context.Context, unitID string) (bool, error) {
	id, err := parseUnitID(unitID)
	if err != nil {
		return false, err
	}
	moved, err := s.repo.MarkProcessing(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return false, err
	}
	if !moved {
		return false, nil
	}
	unit, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return true, err
	}
	if unit != nil {
		s.publish(unit)
	}
	return true, nil
}

// Complete finishes a unit with generated content. A synthesis failure is
// logged but the unit still completes with text only.
func (s *Service) Complete(ctx context.Context, unitID string, req domain.CompleteRequest) (*domain.Unit, error) {
	id, err := parseUnitID(unitID)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, domain.ErrInvalidResult
	}

	now := s.clock.Now()
	finish := domain.Finish{
		Status:      domain.StatusCompleted,
		ResultText:  &text,
		CompletedAt: &now,
	}
	if audio := strings.TrimSpace(req.AudioURL); audio != "" {
		finish.AudioURL = &audio
	}
	unit, err := s.finish(ctx, id, finish, now)
	if err != nil {
		return nil, err
	}

	if audioErr := strings.TrimSpace(req.AudioError); audioErr != "" {
		s.log.Warn("audio synthesis failed",
			zap.String("usage_unit_id", unitID),
			zap.String("error", audioErr),
		)
		s.recordError(ctx, "tts_generation_error", audioErr, errorlogdomain.SeverityMedium, unit.AccountID, unit.ID)
	}
	s.obsMetrics.RecordUsageUnit(ctx, string(domain.StatusCompleted))
	return unit, nil
}

// Fail does not refund the credit; the debit stands for the attempt.
func (s *Service) Fail(ctx context.Context, unitID string, message string) (*domain.Unit, error) {
	id, err := parseUnitID(unitID)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "generation failed"
	}

	now := s.clock.Now()
	unit, err := s.finish(ctx, id, domain.Finish{
		Status:       domain.StatusFailed,
		ErrorMessage: &message,
	}, now)
	if err != nil {
		return nil, err
	}

	s.log.Warn("usage unit failed",
		zap.String("usage_unit_id", unitID),
		zap.String("error", message),
	)
	s.recordError(ctx, "generation_error", message, errorlogdomain.SeverityHigh, unit.AccountID, unit.ID)
	s.obsMetrics.RecordUsageUnit(ctx, string(domain.StatusFailed))
	return unit, nil
}

func (s *Service) finish(ctx context.Context, id snowflake.ID, finish domain.Finish, now time.Time) (*domain.Unit, error) {
	moved, err := s.repo.Finish(ctx, s.db, id, finish, now)
	if err != nil {
		return nil, err
	}
	unit, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, domain.ErrNotFound
	}
	if !moved {
		return nil, domain.ErrAlreadyFinished
	}
	s.publish(unit)
	return unit, nil
}

func (s *Service) Get(ctx context.Context, unitID, accountID string) (*domain.Unit, error) {
	id, err := parseUnitID(unitID)
	if err != nil {
		return nil, err
	}
	owner, err := ledgerdomain.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	unit, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if unit == nil || unit.AccountID != owner {
		return nil, domain.ErrNotFound
	}
	return unit, nil
}

func (s *Service) ListForAccount(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	accountID, err := ledgerdomain.ParseAccountID(req.AccountID)
	if err != nil {
		return domain.ListResponse{}, err
	}
	keyset, err := pagination.DecodeKeyset(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}
	filter := domain.ListFilter{
		AccountID: accountID,
		Limit:     req.Limit(),
	}
	if keyset != nil {
		filter.Cursor = &domain.Cursor{ID: keyset.ID, CreatedAt: keyset.CreatedAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.Trim(items, filter.Limit, func(item domain.Unit) string {
		return pagination.EncodeKeyset(item.ID, item.CreatedAt)
	})
	return domain.ListResponse{
		PageInfo: pageInfo,
		Units:    items,
	}, nil
}

func (s *Service) RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 || limit <= 0 {
		return 0, nil
	}
	now := s.clock.Now()
	units, err := s.repo.ListStale(ctx, s.db, domain.StatusPending, now.Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for i := range units {
		unit := &units[i]
		if err := s.dispatcher.Dispatch(ctx, unit); err != nil {
			s.log.Warn("requeue failed", zap.String("usage_unit_id", unit.ID.String()), zap.Error(err))
			continue
		}
		if err := s.repo.Touch(ctx, s.db, unit.ID, now); err != nil {
			return requeued, err
		}
		requeued++
	}
	if requeued > 0 {
		s.log.Info("requeued stale usage units", zap.Int("count", requeued))
	}
	return requeued, nil
}

func (s *Service) FailStuck(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 || limit <= 0 {
		return 0, nil
	}
	units, err := s.repo.ListStale(ctx, s.db, domain.StatusProcessing, s.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	failed := 0
	for i := range units {
		unitID := units[i].ID.String()
		_, err := s.Fail(ctx, unitID, "processing timed out")
		switch {
		case err == nil:
			failed++
		case errors.Is(err, domain.ErrAlreadyFinished):
			// the worker reported back between the list and the update
		default:
			return failed, err
		}
	}
	if failed > 0 {
		s.log.Warn("failed stuck usage units", zap.Int("count", failed))
	}
	return failed, nil
}

func (s *Service) publish(unit *domain.Unit) {
	s.hub.Publish(unit.AccountID.String(), liveevents.UnitEvent{
		UnitID:    unit.ID.String(),
		Kind:      string(unit.Kind),
		Status:    string(unit.Status),
		UpdatedAt: unit.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Service) recordError(ctx context.Context, errorType, message string, severity errorlogdomain.Severity, accountID, unitID snowflake.ID) {
	if s.errorLogSvc == nil {
		return
	}
	if err := s.errorLogSvc.Record(ctx, errorlogdomain.Entry{
		ErrorType: errorType,
		Message:   message,
		Endpoint:  usageEndpoint,
		Severity:  severity,
		AccountID: &accountID,
		Metadata:  map[string]any{"usage_unit_id": unitID.String()},
	}); err != nil {
		s.log.Error("failed to record error log", zap.String("error_type", errorType), zap.Error(err))
	}
}

func validateConsume(req domain.ConsumeRequest) (domain.Kind, string, string, error) {
	kind := domain.Kind(strings.ToLower(strings.TrimSpace(req.Kind)))
	switch kind {
	case domain.KindCoffee, domain.KindTarot:
	default:
		return "", "", "", domain.ErrInvalidKind
	}

	prompt := strings.TrimSpace(req.Prompt)
	if utf8.RuneCountInString(prompt) > domain.MaxPromptRunes {
		return "", "", "", domain.ErrInvalidPrompt
	}

	locale := strings.ToLower(strings.TrimSpace(req.Locale))
	if _, ok := supportedLocales[locale]; !ok {
		return "", "", "", domain.ErrInvalidLocale
	}
	return kind, prompt, locale, nil
}

func parseUnitID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidUnitID
	}
	return id, nil
}
