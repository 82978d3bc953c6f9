package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward/entity"
)

type RewardRepo struct {
	db sqlx.ExtContext
}

func NewRewardRepo(db sqlx.ExtContext) *RewardRepo { return &RewardRepo{db: db} }

func (r *RewardRepo) WithTx(tx *sqlx.Tx) *RewardRepo { return &RewardRepo{db: tx} }

func (r *RewardRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS rewards (
  id BIGSERIAL PRIMARY KEY,
  name VARCHAR(255) NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  cost BIGINT NOT NULL CHECK (cost > 0),
  stock BIGINT NOT NULL DEFAULT -1,
  collection_info TEXT NOT NULL DEFAULT '',
  is_available BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const rewardColumns = `id, name, description, cost, stock, collection_info, is_available, created_at, updated_at`

// UpsertByName inserts a catalog item or refreshes it when the name exists.
func (r *RewardRepo) UpsertByName(ctx context.Context, rw *entity.Reward) error {
	const q = `INSERT INTO rewards (name, description, cost, stock, collection_info, is_available)
		VALUES (:name, :description, :cost, :stock, :collection_info, :is_available)
		ON CONFLICT (name) DO UPDATE SET
		  description = EXCLUDED.description,
		  cost = EXCLUDED.cost,
		  stock = EXCLUDED.stock,
		  collection_info = EXCLUDED.collection_info,
		  is_available = EXCLUDED.is_available,
		  updated_at = NOW()
		RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, q, rw)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&rw.ID); err != nil {
			return err
		}
	}
	return rows.Err()
}

// List returns the catalog ordered by cost.
func (r *RewardRepo) List(ctx context.Context, availableOnly bool) ([]*entity.Reward, error) {
	q := `SELECT ` + rewardColumns + ` FROM rewards`
	if availableOnly {
		q += ` WHERE is_available = true AND stock <> 0`
	}
	q += ` ORDER BY cost ASC, id ASC`
	out := []*entity.Reward{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}

// GetForUpdate locks the reward row for the surrounding transaction.
func (r *RewardRepo) GetForUpdate(ctx context.Context, id int64) (*entity.Reward, error) {
	var rw entity.Reward
	if err := sqlx.GetContext(ctx, r.db, &rw, `SELECT `+rewardColumns+` FROM rewards WHERE id=$1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &rw, nil
}

// TakeOne decrements limited stock by one. Unlimited stock is untouched.
func (r *RewardRepo) TakeOne(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE rewards SET stock = stock - 1, updated_at = NOW() WHERE id=$1 AND stock > 0`, id)
	return err
}
