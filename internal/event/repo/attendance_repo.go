package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event/entity"
)

// ErrAlreadyRecorded is returned when attendance for the pair exists.
var ErrAlreadyRecorded = errors.New("attendance already recorded")

type AttendanceRepo struct {
	db sqlx.ExtContext
}

func NewAttendanceRepo(db sqlx.ExtContext) *AttendanceRepo { return &AttendanceRepo{db: db} }

func (r *AttendanceRepo) WithTx(tx *sqlx.Tx) *AttendanceRepo { return &AttendanceRepo{db: tx} }

func (r *AttendanceRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS event_attendance (
  id BIGSERIAL PRIMARY KEY,
  event_id VARCHAR(32) NOT NULL REFERENCES events(id),
  user_id BIGINT NOT NULL REFERENCES users(id),
  verified_by BIGINT NOT NULL REFERENCES users(id),
  verified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (event_id, user_id)
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create records a check-in once per (event, user); a repeat returns
// ErrAlreadyRecorded and writes nothing.
func (r *AttendanceRepo) Create(ctx context.Context, a *entity.Attendance) error {
	const q = `INSERT INTO event_attendance (event_id, user_id, verified_by) VALUES ($1, $2, $3)
		ON CONFLICT (event_id, user_id) DO NOTHING
		RETURNING id, verified_at`
	err := r.db.QueryRowxContext(ctx, q, a.EventID, a.UserID, a.VerifiedBy).Scan(&a.ID, &a.VerifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAlreadyRecorded
	}
	return err
}
