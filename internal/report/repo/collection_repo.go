package repo

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report/entity"
)

// ErrDuplicateCollection is returned when the report already has a
// collected_wastes row.
var ErrDuplicateCollection = errors.New("report already collected")

type CollectionRepo struct {
	db sqlx.ExtContext
}

func NewCollectionRepo(db sqlx.ExtContext) *CollectionRepo { return &CollectionRepo{db: db} }

func (r *CollectionRepo) WithTx(tx *sqlx.Tx) *CollectionRepo { return &CollectionRepo{db: tx} }

// EnsureTable creates collected_wastes. report_id is unique: a report is
// closed out once.
func (r *CollectionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collected_wastes (
  id BIGSERIAL PRIMARY KEY,
  report_id BIGINT NOT NULL UNIQUE REFERENCES reports(id),
  collector_id BIGINT NOT NULL REFERENCES users(id),
  collection_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  comment TEXT
);
CREATE INDEX IF NOT EXISTS idx_collected_wastes_collector ON collected_wastes(collector_id, collection_date DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *CollectionRepo) Create(ctx context.Context, c *entity.CollectedWaste) error {
	const q = `INSERT INTO collected_wastes (report_id, collector_id, comment) VALUES ($1, $2, $3)
		RETURNING id, collection_date`
	err := r.db.QueryRowxContext(ctx, q, c.ReportID, c.CollectorID, c.Comment).Scan(&c.ID, &c.CollectionDate)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateCollection
	}
	return err
}

// List returns collections newest first; collectorID 0 lists everyone's.
func (r *CollectionRepo) List(ctx context.Context, collectorID int64, limit, offset int) ([]*entity.CollectedWaste, error) {
	q := `SELECT id, report_id, collector_id, collection_date, comment FROM collected_wastes`
	args := []any{limit, offset}
	if collectorID != 0 {
		q += ` WHERE collector_id=$3`
		args = append(args, collectorID)
	}
	q += ` ORDER BY collection_date DESC, id DESC LIMIT $1 OFFSET $2`
	out := []*entity.CollectedWaste{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}
