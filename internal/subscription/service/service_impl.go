package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/fortuna/internal/subscription/domain"
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
	Repo       subscriptiondomain.Repository
	LedgerRepo ledgerdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	ledgerRepo ledgerdomain.Repository
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
	}
}

func (s *Service) OpenOrExtend(ctx context.Context, db *gorm.DB, req subscriptiondomain.OpenRequest) (*subscriptiondomain.Subscription, bool, error) {
	if req.AccountID == 0 || req.TransactionID == 0 || req.Now.IsZero() {
		return nil, false, subscriptiondomain.ErrInvalidRequest
	}
	if db == nil {
		db = s.db
	}

	renewsAt := req.Now.AddDate(0, 1, 0)
	subscription := subscriptiondomain.Subscription{
		ID:            s.genID.Generate(),
		AccountID:     req.AccountID,
		TransactionID: req.TransactionID,
		Status:        subscriptiondomain.StatusActive,
		PlanType:      subscriptiondomain.PlanMonthly,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		StartedAt:     req.Now,
		RenewsAt:      renewsAt,
		CreatedAt:     req.Now,
	}

	created, err := s.repo.Insert(ctx, db, &subscription)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.repo.FindByTransactionID(ctx, db, req.TransactionID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, subscriptiondomain.ErrNotFound
		}
		return existing, false, nil
	}

	if err := s.ledgerRepo.UpdateSubscriptionState(ctx, db, req.AccountID, ledgerdomain.SubscriptionStateActive, &renewsAt, req.Now); err != nil {
		return nil, false, err
	}

	s.log.Info("subscription opened",
		zap.String("account_id", req.AccountID.String()),
		zap.String("transaction_id", req.TransactionID.String()),
		zap.Time("renews_at", renewsAt),
	)
	return &subscription, true, nil
}

func (s *Service) GetActive(ctx context.Context, accountID string) (*subscriptiondomain.Subscription, error) {
	id, err := ledgerdomain.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	subscription, err := s.repo.FindActive(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return subscription, nil
}

func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	var expired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		expired, err = s.repo.ExpireDue(ctx, tx, s.clock.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("subscriptions expired", zap.Int64("count", expired))
	}
	return expired, nil
}
