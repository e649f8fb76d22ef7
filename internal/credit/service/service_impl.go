package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fortuna/internal/audit/domain"
	"github.com/smallbiznis/fortuna/internal/clock"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
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
	Repo       ledgerdomain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the credit policy layer. Atomicity comes from the ledger
// repository statements; the meter only orders them inside one transaction.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) WithTx(tx *gorm.DB) creditdomain.Service {
	next := *s
	next.db = tx
	return &next
}

func (s *Service) GrantPurchase(ctx context.Context, accountID snowflake.ID, grant creditdomain.Grant) (bool, error) {
	if grant.TransactionID == 0 || grant.Credits <= 0 {
		return false, creditdomain.ErrInvalidGrant
	}

	granted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		inserted, err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.Entry{
			ID:         s.genID.Generate(),
			AccountID:  accountID,
			SourceType: ledgerdomain.SourceTypePurchase,
			SourceID:   grant.TransactionID.String(),
			Delta:      grant.Credits,
			Requested:  grant.Credits,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if err := s.repo.Increment(ctx, tx, accountID, grant.Credits, now); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if !granted {
		s.log.Info("purchase already granted",
			zap.String("account_id", accountID.String()),
			zap.String("transaction_id", grant.TransactionID.String()),
		)
		return false, nil
	}
	s.obsMetrics.RecordCreditsGranted(ctx, string(ledgerdomain.SourceTypePurchase), grant.Credits)
	return true, nil
}

// ReversePurchase claws back a refunded grant. The journal row is claimed
// first so a concurrent reversal of the same transaction waits on it and
// then finds it already applied.
func (s *Service) ReversePurchase(ctx context.Context, accountID snowflake.ID, grant creditdomain.Grant) (creditdomain.Reversal, error) {
	if grant.TransactionID == 0 || grant.Credits <= 0 {
		return creditdomain.Reversal{}, creditdomain.ErrInvalidGrant
	}

	reversal := creditdomain.Reversal{Requested: grant.Credits}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		entryID := s.genID.Generate()
		inserted, err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.Entry{
			ID:         entryID,
			AccountID:  accountID,
			SourceType: ledgerdomain.SourceTypePurchaseReversal,
			SourceID:   grant.TransactionID.String(),
			Requested:  grant.Credits,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindEntry(ctx, tx, ledgerdomain.SourceTypePurchaseReversal, grant.TransactionID.String())
			if err != nil {
				return err
			}
			reversal.AlreadyApplied = true
			if existing != nil {
				reversal.Applied = -existing.Delta
			}
			return nil
		}

		applied, err := s.repo.DecrementFloor(ctx, tx, accountID, grant.Credits, now)
		if err != nil {
			return err
		}
		if applied > 0 {
			if err := s.repo.UpdateEntryDelta(ctx, tx, entryID, -applied); err != nil {
				return err
			}
		}
		reversal.Applied = applied
		return nil
	})
	if err != nil {
		return creditdomain.Reversal{}, err
	}

	if !reversal.AlreadyApplied && reversal.Applied > 0 {
		s.obsMetrics.RecordCreditsDebited(ctx, string(ledgerdomain.SourceTypePurchaseReversal), reversal.Applied)
	}
	return reversal, nil
}

func (s *Service) GrantTrial(ctx context.Context, accountID snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		stamped, err := s.repo.MarkTrialGranted(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		if !stamped {
			return creditdomain.ErrTrialAlreadyGranted
		}
		inserted, err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.Entry{
			ID:         s.genID.Generate(),
			AccountID:  accountID,
			SourceType: ledgerdomain.SourceTypeTrial,
			SourceID:   accountID.String(),
			Delta:      creditdomain.TrialCredits,
			Requested:  creditdomain.TrialCredits,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return creditdomain.ErrTrialAlreadyGranted
		}
		return s.repo.Restore(ctx, tx, accountID, creditdomain.TrialCredits, now)
	})
	if err != nil {
		return err
	}

	s.obsMetrics.RecordCreditsGranted(ctx, string(ledgerdomain.SourceTypeTrial), creditdomain.TrialCredits)
	return nil
}

func (s *Service) DebitForUsage(ctx context.Context, accountID snowflake.ID, unitID snowflake.ID) (creditdomain.DebitResult, error) {
	if unitID == 0 {
		return "", creditdomain.ErrInvalidGrant
	}

	result := creditdomain.DebitInsufficientCredits
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.repo.Decrement(ctx, tx, accountID, creditdomain.UsageCost, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		inserted, err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.Entry{
			ID:         s.genID.Generate(),
			AccountID:  accountID,
			SourceType: ledgerdomain.SourceTypeUsageDebit,
			SourceID:   unitID.String(),
			Delta:      -creditdomain.UsageCost,
			Requested:  creditdomain.UsageCost,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// rolls the decrement back
			return creditdomain.ErrDuplicateDebit
		}
		result = creditdomain.DebitOK
		return nil
	})
	if err != nil {
		return "", err
	}

	if result == creditdomain.DebitOK {
		s.obsMetrics.RecordCreditsDebited(ctx, string(ledgerdomain.SourceTypeUsageDebit), creditdomain.UsageCost)
	}
	return result, nil
}

func (s *Service) RefundUsage(ctx context.Context, accountID snowflake.ID, unitID snowflake.ID) (bool, error) {
	refunded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		debit, err := s.repo.FindEntry(ctx, tx, ledgerdomain.SourceTypeUsageDebit, unitID.String())
		if err != nil {
			return err
		}
		if debit == nil || debit.AccountID != accountID {
			return creditdomain.ErrDebitNotFound
		}

		now := s.clock.Now()
		inserted, err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.Entry{
			ID:         s.genID.Generate(),
			AccountID:  accountID,
			SourceType: ledgerdomain.SourceTypeUsageRefund,
			SourceID:   unitID.String(),
			Delta:      creditdomain.UsageCost,
			Requested:  creditdomain.UsageCost,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if err := s.repo.Restore(ctx, tx, accountID, creditdomain.UsageCost, now); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if refunded {
		s.obsMetrics.RecordCreditsGranted(ctx, string(ledgerdomain.SourceTypeUsageRefund), creditdomain.UsageCost)
	}
	return refunded, nil
}

func (s *Service) AdminGrant(ctx context.Context, req creditdomain.AdminGrantRequest) (*ledgerdomain.Entry, error) {
	accountID, err := ledgerdomain.ParseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}
	if req.Credits <= 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, creditdomain.ErrInvalidReason
	}
	actor := strings.TrimSpace(req.Actor)

	entryID := s.genID.Generate()
	entry := ledgerdomain.Entry{
		ID:         entryID,
		AccountID:  accountID,
		SourceType: ledgerdomain.SourceTypeAdminGrant,
		SourceID:   entryID.String(),
		Delta:      req.Credits,
		Requested:  req.Credits,
		Reason:     &reason,
		CreatedAt:  s.clock.Now(),
	}
	if actor != "" {
		entry.Actor = &actor
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
			return err
		}
		return s.repo.Restore(ctx, tx, accountID, req.Credits, entry.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordCreditsGranted(ctx, string(ledgerdomain.SourceTypeAdminGrant), req.Credits)
	s.log.Info("admin credit grant",
		zap.String("account_id", accountID.String()),
		zap.Int64("credits", req.Credits),
		zap.String("actor", actor),
	)
	if s.auditSvc != nil {
		targetID := accountID.String()
		var actorID *string
		if actor != "" {
			actorID = &actor
		}
		if err := s.auditSvc.AuditLog(ctx, &accountID, auditdomain.ActorTypeAdmin, actorID, "credit.admin_grant", "account", &targetID, map[string]any{
			"credits":  req.Credits,
			"reason":   reason,
			"entry_id": entryID.String(),
		}); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("audit admin grant failed", zap.Error(err))
		}
	}
	return &entry, nil
}
