package repo

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/entity"
)

var errNoRowReturned = errors.New("no row returned")

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// WithTx returns a copy of the repo bound to tx.
func (r *UserRepo) WithTx(tx *sqlx.Tx) *UserRepo { return &UserRepo{db: tx} }

// EnsureTable creates the users table if not exists (idempotent).
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  clerk_id VARCHAR(255) NOT NULL UNIQUE,
  email VARCHAR(255) NOT NULL DEFAULT '',
  name VARCHAR(255) NOT NULL DEFAULT '',
  avatar_url TEXT,
  points BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const userColumns = `id, clerk_id, email, name, avatar_url, points, created_at, updated_at`

// Upsert inserts the user or refreshes its profile fields, keyed by clerk_id.
// Empty incoming values never overwrite stored ones.
func (r *UserRepo) Upsert(ctx context.Context, u *entity.User) (*entity.User, error) {
	q := `INSERT INTO users (clerk_id, email, name, avatar_url)
		VALUES (:clerk_id, :email, :name, :avatar_url)
		ON CONFLICT (clerk_id) DO UPDATE SET
		  email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		  name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		  avatar_url = COALESCE(EXCLUDED.avatar_url, users.avatar_url),
		  updated_at = NOW()
		RETURNING ` + userColumns
	rows, err := sqlx.NamedQueryContext(ctx, r.db, q, u)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out entity.User
	if rows.Next() {
		if err := rows.StructScan(&out); err != nil {
			return nil, err
		}
		return &out, rows.Err()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, errNoRowReturned
}

// GetByID returns the user or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByClerkID returns the user mapped to an auth-provider id or sql.ErrNoRows.
func (r *UserRepo) GetByClerkID(ctx context.Context, clerkID string) (*entity.User, error) {
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE clerk_id=$1`, clerkID); err != nil {
		return nil, err
	}
	return &u, nil
}

// AddPoints adjusts the cached balance and returns the new value, or
// sql.ErrNoRows when the user does not exist.
func (r *UserRepo) AddPoints(ctx context.Context, id, delta int64) (int64, error) {
	var points int64
	err := sqlx.GetContext(ctx, r.db, &points,
		`UPDATE users SET points = points + $2, updated_at = NOW() WHERE id=$1 RETURNING points`, id, delta)
	return points, err
}

// LockPoints reads the cached balance and locks the row until the
// surrounding transaction ends.
func (r *UserRepo) LockPoints(ctx context.Context, id int64) (int64, error) {
	var points int64
	err := sqlx.GetContext(ctx, r.db, &points, `SELECT points FROM users WHERE id=$1 FOR UPDATE`, id)
	return points, err
}

// SetPoints overwrites the cached balance.
func (r *UserRepo) SetPoints(ctx context.Context, id, points int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET points = $2, updated_at = NOW() WHERE id=$1`, id, points)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Leaderboard ranks users by cached points. Ties share a rank.
func (r *UserRepo) Leaderboard(ctx context.Context, limit int) ([]*entity.LeaderboardEntry, error) {
	const q = `SELECT RANK() OVER (ORDER BY u.points DESC) AS rank,
		  u.id AS user_id, u.name, u.avatar_url, u.points,
		  (SELECT COUNT(*) FROM reports r WHERE r.user_id = u.id) AS reports,
		  (SELECT COUNT(*) FROM collected_wastes c WHERE c.collector_id = u.id) AS collections
		FROM users u
		ORDER BY u.points DESC, u.id ASC
		LIMIT $1`
	out := []*entity.LeaderboardEntry{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats aggregates a user's reports, collections, ledger and attendance.
func (r *UserRepo) Stats(ctx context.Context, id int64) (*entity.Stats, error) {
	const q = `SELECT u.id AS user_id, u.points,
		  (SELECT COUNT(*) FROM reports r WHERE r.user_id = u.id) AS reports_submitted,
		  (SELECT COUNT(*) FROM collected_wastes c WHERE c.collector_id = u.id) AS reports_collected,
		  COALESCE((SELECT SUM(t.amount) FROM transactions t WHERE t.user_id = u.id AND t.type = 'earned'), 0) AS points_earned,
		  COALESCE((SELECT SUM(t.amount) FROM transactions t WHERE t.user_id = u.id AND t.type = 'redeemed'), 0) AS points_redeemed,
		  (SELECT COUNT(*) FROM event_attendance a WHERE a.user_id = u.id) AS events_attended
		FROM users u WHERE u.id = $1`
	var s entity.Stats
	if err := sqlx.GetContext(ctx, r.db, &s, q, id); err != nil {
		return nil, err
	}
	return &s, nil
}
