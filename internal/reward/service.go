package reward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward/entity"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward/repo"
	userrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/database"
)

var (
	ErrUserNotFound       = apperr.New(apperr.ErrNotFound, "user not found")
	ErrRewardNotFound     = apperr.New(apperr.ErrNotFound, "reward not found")
	ErrInsufficientPoints = apperr.New(apperr.ErrConflict, "insufficient points")
	ErrOutOfStock         = apperr.New(apperr.ErrConflict, "reward is out of stock")
	ErrUnavailable        = apperr.New(apperr.ErrConflict, "reward is not available")
)

// Invalidator drops cached per-user views after a balance change.
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

// Service owns the points ledger. Every balance change writes a ledger row
// and the cached users.points value in the same transaction; the ledger is
// authoritative.
type Service struct {
	db      *sqlx.DB
	rewards *repo.RewardRepo
	txns    *repo.TransactionRepo
	users   *userrepo.UserRepo
	cache   Invalidator
	logger  *zap.SugaredLogger
}

func NewService(db *sqlx.DB, cache Invalidator, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:      db,
		rewards: repo.NewRewardRepo(db),
		txns:    repo.NewTransactionRepo(db),
		users:   userrepo.NewUserRepo(db),
		cache:   cache,
		logger:  logger,
	}
}

// Result is a ledger entry together with the balance it produced.
type Result struct {
	Transaction *entity.Transaction `json:"transaction"`
	Points      int64               `json:"points"`
}

// RecordTransaction appends a ledger row inside tx without touching the
// cached balance. Callers pair it with a balance update in one transaction.
func (s *Service) RecordTransaction(ctx context.Context, tx *sqlx.Tx, userID int64, rewardID *int64, amount int64, typ, description string) (*entity.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.Invalid("amount must be positive")
	}
	if typ != entity.TypeEarned && typ != entity.TypeRedeemed {
		return nil, apperr.Invalid("type must be one of [earned, redeemed]")
	}
	t := &entity.Transaction{UserID: userID, RewardID: rewardID, Amount: amount, Type: typ, Description: description}
	if err := s.txns.WithTx(tx).Create(ctx, t); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	return t, nil
}

// applyInTx writes the ledger row and the matching balance change inside tx.
func (s *Service) applyInTx(ctx context.Context, tx *sqlx.Tx, userID int64, rewardID *int64, delta int64, description string) (*Result, error) {
	typ, amount := entity.TypeEarned, delta
	if delta < 0 {
		typ, amount = entity.TypeRedeemed, -delta
	}
	points, err := s.users.WithTx(tx).AddPoints(ctx, userID, delta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update points: %w", err)
	}
	t, err := s.RecordTransaction(ctx, tx, userID, rewardID, amount, typ, description)
	if err != nil {
		return nil, err
	}
	return &Result{Transaction: t, Points: points}, nil
}

// Award credits amount points inside an existing transaction.
func (s *Service) Award(ctx context.Context, tx *sqlx.Tx, userID, amount int64, description string) (*Result, error) {
	if amount <= 0 {
		return nil, apperr.Invalid("amount must be positive")
	}
	return s.applyInTx(ctx, tx, userID, nil, amount, description)
}

// UpdatePoints adjusts a user's balance by delta (either sign) and records
// the ledger entry atomically. An unknown user yields ErrUserNotFound and
// changes nothing.
func (s *Service) UpdatePoints(ctx context.Context, userID, delta int64, description string) (*Result, error) {
	if delta == 0 {
		return nil, apperr.Invalid("points must not be zero")
	}
	var res *Result
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if delta < 0 {
			balance, err := s.users.WithTx(tx).LockPoints(ctx, userID)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
			}
			if err != nil {
				return err
			}
			if balance+delta < 0 {
				return fmt.Errorf("balance %d, debit %d: %w", balance, -delta, ErrInsufficientPoints)
			}
		}
		var err error
		res, err = s.applyInTx(ctx, tx, userID, nil, delta, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	s.logger.Infow("points updated", "user_id", userID, "delta", delta, "balance", res.Points)
	return res, nil
}

// Redeem exchanges points for a catalog reward. The price comes from the
// catalog, never from the caller.
func (s *Service) Redeem(ctx context.Context, userID, rewardID int64) (*Result, error) {
	var res *Result
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		rewards := s.rewards.WithTx(tx)
		rw, err := rewards.GetForUpdate(ctx, rewardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reward %d: %w", rewardID, ErrRewardNotFound)
		}
		if err != nil {
			return err
		}
		if !rw.IsAvailable {
			return fmt.Errorf("reward %d: %w", rewardID, ErrUnavailable)
		}
		if rw.Stock == 0 {
			return fmt.Errorf("reward %d: %w", rewardID, ErrOutOfStock)
		}
		balance, err := s.users.WithTx(tx).LockPoints(ctx, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
		}
		if err != nil {
			return err
		}
		if balance < rw.Cost {
			return fmt.Errorf("balance %d, cost %d: %w", balance, rw.Cost, ErrInsufficientPoints)
		}
		if err := rewards.TakeOne(ctx, rewardID); err != nil {
			return err
		}
		res, err = s.applyInTx(ctx, tx, userID, &rw.ID, -rw.Cost, "Redeemed "+rw.Name)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	s.logger.Infow("reward redeemed", "user_id", userID, "reward_id", rewardID, "balance", res.Points)
	return res, nil
}

func (s *Service) History(ctx context.Context, userID int64, limit, offset int) ([]*entity.Transaction, error) {
	return s.txns.ListForUser(ctx, userID, limit, offset)
}

func (s *Service) Balance(ctx context.Context, userID int64) (*entity.Balance, error) {
	b, err := s.txns.Balance(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	return b, err
}

func (s *Service) Catalog(ctx context.Context, availableOnly bool) ([]*entity.Reward, error) {
	return s.rewards.List(ctx, availableOnly)
}

// Reconcile lists users whose cached points drifted from the ledger. With
// fix set, each drifted balance is rewritten to the ledger sum.
func (s *Service) Reconcile(ctx context.Context, fix bool) ([]*entity.Drift, error) {
	drift, err := s.txns.Drift(ctx)
	if err != nil {
		return nil, fmt.Errorf("find drift: %w", err)
	}
	if !fix || len(drift) == 0 {
		return drift, nil
	}
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		users := s.users.WithTx(tx)
		for _, d := range drift {
			if _, err := users.SetPoints(ctx, d.UserID, d.LedgerSum); err != nil {
				return fmt.Errorf("repair user %d: %w", d.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range drift {
		s.invalidate(ctx, d.UserID)
		s.logger.Warnw("balance repaired from ledger", "user_id", d.UserID, "cached", d.Points, "ledger", d.LedgerSum)
	}
	return drift, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}
