package repo

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event/entity"
)

var errNoRowReturned = errors.New("no row returned")

type RegistrationRepo struct {
	db sqlx.ExtContext
}

func NewRegistrationRepo(db sqlx.ExtContext) *RegistrationRepo { return &RegistrationRepo{db: db} }

func (r *RegistrationRepo) WithTx(tx *sqlx.Tx) *RegistrationRepo { return &RegistrationRepo{db: tx} }

func (r *RegistrationRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS event_registrations (
  id VARCHAR(27) PRIMARY KEY,
  event_id VARCHAR(32) NOT NULL REFERENCES events(id),
  user_id BIGINT NOT NULL REFERENCES users(id),
  qr_code TEXT NOT NULL,
  registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (event_id, user_id)
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const registrationColumns = `id, event_id, user_id, qr_code, registered_at`

// Get returns sql.ErrNoRows when the user is not registered.
func (r *RegistrationRepo) Get(ctx context.Context, eventID string, userID int64) (*entity.Registration, error) {
	var g entity.Registration
	q := `SELECT ` + registrationColumns + ` FROM event_registrations WHERE event_id=$1 AND user_id=$2`
	if err := sqlx.GetContext(ctx, r.db, &g, q, eventID, userID); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *RegistrationRepo) Create(ctx context.Context, g *entity.Registration) error {
	const q = `INSERT INTO event_registrations (id, event_id, user_id, qr_code) VALUES ($1, $2, $3, $4) RETURNING registered_at`
	return r.db.QueryRowxContext(ctx, q, g.ID, g.EventID, g.UserID, g.QRCode).Scan(&g.RegisteredAt)
}

func (r *RegistrationRepo) Count(ctx context.Context, eventID string) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM event_registrations WHERE event_id=$1`, eventID)
	return n, err
}

// Attendees lists registrations with profile and check-in time.
func (r *RegistrationRepo) Attendees(ctx context.Context, eventID string) ([]*entity.Attendee, error) {
	const q = `SELECT g.user_id, u.name, u.email, g.registered_at, a.verified_at
		FROM event_registrations g
		JOIN users u ON u.id = g.user_id
		LEFT JOIN event_attendance a ON a.event_id = g.event_id AND a.user_id = g.user_id
		WHERE g.event_id=$1
		ORDER BY g.registered_at`
	out := []*entity.Attendee{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, eventID); err != nil {
		return nil, err
	}
	return out, nil
}
