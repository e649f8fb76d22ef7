package service

import (
	"context"

	"github.com/smallbiznis/fortuna/internal/clock"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Provision(ctx context.Context, req ledgerdomain.ProvisionRequest) (*ledgerdomain.Account, bool, error) {
	accountID, err := ledgerdomain.ParseAccountID(req.AccountID)
	if err != nil {
		return nil, false, err
	}

	now := s.clock.Now()
	account := ledgerdomain.Account{
		ID:                accountID,
		SubscriptionState: ledgerdomain.SubscriptionStateNone,
		IsGuest:           req.IsGuest,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := s.repo.InsertAccount(ctx, s.db, &account)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("account provisioned",
			zap.String("account_id", accountID.String()),
			zap.Bool("is_guest", req.IsGuest),
		)
		return &account, true, nil
	}

	existing, err := s.repo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, ledgerdomain.ErrAccountNotFound
	}
	return existing, false, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (*ledgerdomain.Account, error) {
	id, err := ledgerdomain.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccount(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) (ledgerdomain.ListEntriesResponse, error) {
	accountID, err := ledgerdomain.ParseAccountID(req.AccountID)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}

	keyset, err := pagination.DecodeKeyset(req.PageToken)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}
	filter := ledgerdomain.EntryFilter{
		AccountID: accountID,
		Limit:     req.Limit(),
	}
	if keyset != nil {
		filter.Cursor = &ledgerdomain.EntryCursor{ID: keyset.ID, CreatedAt: keyset.CreatedAt}
	}

	items, err := s.repo.ListEntries(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, filter.Limit, func(item ledgerdomain.Entry) string {
		return pagination.EncodeKeyset(item.ID, item.CreatedAt)
	})
	return ledgerdomain.ListEntriesResponse{
		PageInfo: pageInfo,
		Entries:  items,
	}, nil
}
