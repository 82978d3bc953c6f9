package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward/entity"
)

// signedAmount is the ledger effect of one row.
const signedAmount = `CASE WHEN t.type = 'redeemed' THEN -t.amount ELSE t.amount END`

type TransactionRepo struct {
	db sqlx.ExtContext
}

func NewTransactionRepo(db sqlx.ExtContext) *TransactionRepo { return &TransactionRepo{db: db} }

func (r *TransactionRepo) WithTx(tx *sqlx.Tx) *TransactionRepo { return &TransactionRepo{db: tx} }

func (r *TransactionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transactions (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  reward_id BIGINT REFERENCES rewards(id),
  amount BIGINT NOT NULL CHECK (amount > 0),
  type VARCHAR(20) NOT NULL CHECK (type IN ('earned', 'redeemed')),
  description TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create appends t to the ledger and fills ID and CreatedAt.
func (r *TransactionRepo) Create(ctx context.Context, t *entity.Transaction) error {
	const q = `INSERT INTO transactions (user_id, reward_id, amount, type, description)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	return r.db.QueryRowxContext(ctx, q, t.UserID, t.RewardID, t.Amount, t.Type, t.Description).Scan(&t.ID, &t.CreatedAt)
}

func (r *TransactionRepo) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*entity.Transaction, error) {
	const q = `SELECT id, user_id, reward_id, amount, type, description, created_at
		FROM transactions WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	out := []*entity.Transaction{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, userID, limit, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns the cached points next to the ledger totals, or
// sql.ErrNoRows for an unknown user.
func (r *TransactionRepo) Balance(ctx context.Context, userID int64) (*entity.Balance, error) {
	const q = `SELECT u.id AS user_id, u.points,
		  COALESCE(SUM(` + signedAmount + `), 0) AS ledger_sum,
		  COALESCE(SUM(t.amount) FILTER (WHERE t.type = 'earned'), 0) AS earned,
		  COALESCE(SUM(t.amount) FILTER (WHERE t.type = 'redeemed'), 0) AS redeemed
		FROM users u LEFT JOIN transactions t ON t.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id, u.points`
	var b entity.Balance
	if err := sqlx.GetContext(ctx, r.db, &b, q, userID); err != nil {
		return nil, err
	}
	return &b, nil
}

// Drift lists users whose cached points differ from their ledger sum.
func (r *TransactionRepo) Drift(ctx context.Context) ([]*entity.Drift, error) {
	const q = `SELECT u.id AS user_id, u.points, COALESCE(SUM(` + signedAmount + `), 0) AS ledger_sum
		FROM users u LEFT JOIN transactions t ON t.user_id = u.id
		GROUP BY u.id, u.points
		HAVING u.points <> COALESCE(SUM(` + signedAmount + `), 0)
		ORDER BY u.id`
	out := []*entity.Drift{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}
