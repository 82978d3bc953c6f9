package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/entity"
)

type NotificationRepo struct {
	db sqlx.ExtContext
}

func NewNotificationRepo(db sqlx.ExtContext) *NotificationRepo { return &NotificationRepo{db: db} }

func (r *NotificationRepo) WithTx(tx *sqlx.Tx) *NotificationRepo { return &NotificationRepo{db: tx} }

func (r *NotificationRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS notifications (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  message TEXT NOT NULL,
  type VARCHAR(50) NOT NULL,
  is_read BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id, is_read);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts n and fills ID and CreatedAt.
func (r *NotificationRepo) Create(ctx context.Context, n *entity.Notification) error {
	const q = `INSERT INTO notifications (user_id, message, type) VALUES ($1, $2, $3) RETURNING id, is_read, created_at`
	return r.db.QueryRowxContext(ctx, q, n.UserID, n.Message, n.Type).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
}

// ListForUser returns newest first.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]*entity.Notification, error) {
	q := `SELECT id, user_id, message, type, is_read, created_at FROM notifications WHERE user_id=$1`
	if unreadOnly {
		q += ` AND is_read = false`
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	out := []*entity.Notification{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, userID, limit, offset); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *NotificationRepo) CountUnread(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND is_read = false`, userID)
	return n, err
}

// MarkRead flags one of the user's notifications as read and reports
// whether a row matched.
func (r *NotificationRepo) MarkRead(ctx context.Context, id, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = true WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
