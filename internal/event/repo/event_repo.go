package repo

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event/entity"
)

type EventRepo struct {
	db sqlx.ExtContext
}

func NewEventRepo(db sqlx.ExtContext) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) WithTx(tx *sqlx.Tx) *EventRepo { return &EventRepo{db: tx} }

func (r *EventRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  id VARCHAR(32) PRIMARY KEY,
  organizer_id BIGINT NOT NULL REFERENCES users(id),
  title VARCHAR(255) NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  date VARCHAR(10) NOT NULL,
  time VARCHAR(5) NOT NULL,
  location TEXT NOT NULL,
  latitude DOUBLE PRECISION,
  longitude DOUBLE PRECISION,
  category VARCHAR(50) NOT NULL,
  max_participants INTEGER NOT NULL DEFAULT 0,
  image_url TEXT,
  status VARCHAR(20) NOT NULL DEFAULT 'upcoming',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_events_date ON events(date, time);
CREATE INDEX IF NOT EXISTS idx_events_organizer ON events(organizer_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const eventColumns = `e.id, e.organizer_id, e.title, e.description, e.date, e.time, e.location, e.latitude, e.longitude,
	e.category, e.max_participants, e.image_url, e.status, e.created_at,
	(SELECT COUNT(*) FROM event_registrations g WHERE g.event_id = e.id) AS participant_count`

func (r *EventRepo) Create(ctx context.Context, e *entity.Event) error {
	q := `INSERT INTO events (id, organizer_id, title, description, date, time, location, latitude, longitude, category, max_participants, image_url)
		VALUES (:id, :organizer_id, :title, :description, :date, :time, :location, :latitude, :longitude, :category, :max_participants, :image_url)
		RETURNING status, created_at`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, q, e)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return errNoRowReturned
	}
	return rows.Scan(&e.Status, &e.CreatedAt)
}

func (r *EventRepo) GetByID(ctx context.Context, id string) (*entity.Event, error) {
	var e entity.Event
	if err := sqlx.GetContext(ctx, r.db, &e, `SELECT `+eventColumns+` FROM events e WHERE e.id=$1`, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// Lock takes a row lock on the event so registrations against its capacity
// serialize. ParticipantCount is not filled; count after the lock is held.
func (r *EventRepo) Lock(ctx context.Context, id string) (*entity.Event, error) {
	var e entity.Event
	const q = `SELECT id, organizer_id, max_participants, status FROM events WHERE id=$1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.db, &e, q, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// List orders by date and time, soonest first.
func (r *EventRepo) List(ctx context.Context, f entity.Filter) ([]*entity.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+"$"+strconv.Itoa(len(args)))
	}
	if f.UpcomingFrom != "" {
		add("e.status='upcoming' AND e.date>=", f.UpcomingFrom)
	}
	if f.Category != "" {
		add("e.category=", f.Category)
	}
	if f.OrganizerID != 0 {
		add("e.organizer_id=", f.OrganizerID)
	}
	q := `SELECT ` + eventColumns + ` FROM events e`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += ` ORDER BY e.date, e.time, e.id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	out := []*entity.Event{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}
