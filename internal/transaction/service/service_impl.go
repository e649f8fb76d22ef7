package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       txndomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       txndomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) txndomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("transaction.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) WithTx(tx *gorm.DB) txndomain.Service {
	next := *s
	next.db = tx
	return &next
}

func (s *Service) Create(ctx context.Context, req txndomain.CreateRequest) (*txndomain.Transaction, error) {
	accountID, err := ledgerdomain.ParseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}
	kind := txndomain.Kind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	price, err := txndomain.PriceFor(kind)
	if err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, txndomain.ErrInvalidProvider
	}

	now := s.clock.Now()
	txn := txndomain.Transaction{
		ID:             s.genID.Generate(),
		AccountID:      accountID,
		Kind:           kind,
		Status:         txndomain.StatusPending,
		Amount:         price.Amount,
		Currency:       price.Currency,
		CreditsGranted: price.Credits,
		Provider:       provider,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, &txn); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordTransaction(ctx, string(kind), string(txn.Status))
	return &txn, nil
}

func (s *Service) AttachExternalID(ctx context.Context, transactionID, externalPaymentID, redirectURL string) (*txndomain.Transaction, error) {
	id, err := parseTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	externalPaymentID = strings.TrimSpace(externalPaymentID)
	if externalPaymentID == "" {
		return nil, txndomain.ErrInvalidExternalID
	}
	var redirect *string
	if trimmed := strings.TrimSpace(redirectURL); trimmed != "" {
		redirect = &trimmed
	}

	attached, err := s.repo.AttachExternalID(ctx, s.db, id, externalPaymentID, redirect, s.clock.Now())
	if err != nil {
		return nil, err
	}

	txn, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, txndomain.ErrNotFound
	}
	if attached {
		return txn, nil
	}
	if txn.ExternalPaymentID != nil && *txn.ExternalPaymentID == externalPaymentID {
		return txn, nil
	}
	return nil, txndomain.ErrAlreadyAttached
}

// TransitionTo applies one state machine edge. The update is conditional on
// the status that was read, so of two racing callers only one succeeds and
// the other gets ErrInvalidTransition.
func (s *Service) TransitionTo(ctx context.Context, transactionID string, status txndomain.Status) (*txndomain.Transaction, error) {
	id, err := parseTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	switch status {
	case txndomain.StatusCompleted, txndomain.StatusFailed, txndomain.StatusRefunded:
	default:
		return nil, txndomain.ErrInvalidStatus
	}

	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, txndomain.ErrNotFound
	}
	if !txndomain.CanTransition(current.Status, status) {
		return nil, txndomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	var completedAt *time.Time
	if status == txndomain.StatusCompleted || status == txndomain.StatusRefunded {
		completedAt = &now
	}
	updated, err := s.repo.UpdateStatus(ctx, s.db, id, current.Status, status, completedAt, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, txndomain.ErrInvalidTransition
	}

	next, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, txndomain.ErrNotFound
	}

	s.log.Info("transaction transitioned",
		zap.String("transaction_id", id.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)
	s.obsMetrics.RecordTransaction(ctx, string(next.Kind), string(status))
	return next, nil
}

func (s *Service) Get(ctx context.Context, transactionID string) (*txndomain.Transaction, error) {
	id, err := parseTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	txn, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, txndomain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) GetForAccount(ctx context.Context, transactionID, accountID string) (*txndomain.Transaction, error) {
	owner, err := ledgerdomain.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.AccountID != owner {
		return nil, txndomain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) FindByExternalID(ctx context.Context, provider, externalPaymentID string) (*txndomain.Transaction, error) {
	if strings.TrimSpace(externalPaymentID) == "" {
		return nil, txndomain.ErrInvalidExternalID
	}
	txn, err := s.repo.FindByExternalID(ctx, s.db, provider, externalPaymentID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, txndomain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) List(ctx context.Context, req txndomain.ListRequest) (txndomain.ListResponse, error) {
	accountID, err := ledgerdomain.ParseAccountID(req.AccountID)
	if err != nil {
		return txndomain.ListResponse{}, err
	}

	filter := txndomain.ListFilter{
		AccountID: accountID,
		Limit:     req.Limit(),
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		switch txndomain.Status(status) {
		case txndomain.StatusPending, txndomain.StatusCompleted, txndomain.StatusFailed, txndomain.StatusRefunded:
			filter.Status = txndomain.Status(status)
		default:
			return txndomain.ListResponse{}, txndomain.ErrInvalidStatus
		}
	}
	keyset, err := pagination.DecodeKeyset(req.PageToken)
	if err != nil {
		return txndomain.ListResponse{}, err
	}
	if keyset != nil {
		filter.Cursor = &txndomain.Cursor{ID: keyset.ID, CreatedAt: keyset.CreatedAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return txndomain.ListResponse{}, err
	}
	items, pageInfo := pagination.Trim(items, filter.Limit, func(item txndomain.Transaction) string {
		return pagination.EncodeKeyset(item.ID, item.CreatedAt)
	})
	return txndomain.ListResponse{PageInfo: pageInfo, Transactions: items}, nil
}

func parseTransactionID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, txndomain.ErrInvalidID
	}
	return id, nil
}

func (s *Service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]txndomain.Transaction, error) {
	if olderThan <= 0 || limit <= 0 {
		return nil, nil
	}
	now := s.clock.Now()
	items, err := s.repo.ListStalePending(ctx, s.db, now.Add(-olderThan), limit)
	if err != nil || len(items) == 0 {
		return items, err
	}

	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if err := s.repo.TouchPending(ctx, s.db, ids, now); err != nil {
		return nil, err
	}
	return items, nil
}
