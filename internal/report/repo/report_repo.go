package repo

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report/entity"
)

// ReportRepo provides data access for the reports table. Status changes go
// through conditional updates so each edge is taken at most once.
type ReportRepo struct {
	db sqlx.ExtContext
}

func NewReportRepo(db sqlx.ExtContext) *ReportRepo { return &ReportRepo{db: db} }

func (r *ReportRepo) WithTx(tx *sqlx.Tx) *ReportRepo { return &ReportRepo{db: tx} }

func (r *ReportRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS reports (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  location TEXT NOT NULL,
  latitude DOUBLE PRECISION,
  longitude DOUBLE PRECISION,
  waste_type VARCHAR(255) NOT NULL,
  amount VARCHAR(255) NOT NULL,
  image_url TEXT,
  verification_result JSONB,
  status VARCHAR(255) NOT NULL DEFAULT 'pending',
  collector_id BIGINT REFERENCES users(id),
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reports_user ON reports(user_id);
CREATE INDEX IF NOT EXISTS idx_reports_collector ON reports(collector_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const reportColumns = `id, user_id, location, latitude, longitude, waste_type, amount, image_url,
	verification_result, status, collector_id, version, created_at, updated_at`

// Create inserts rep as pending with no collector, whatever the caller set.
func (r *ReportRepo) Create(ctx context.Context, rep *entity.Report) (*entity.Report, error) {
	const q = `INSERT INTO reports (user_id, location, latitude, longitude, waste_type, amount, image_url, verification_result, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING ` + reportColumns
	var out entity.Report
	err := sqlx.GetContext(ctx, r.db, &out, q,
		rep.UserID, rep.Location, rep.Latitude, rep.Longitude, rep.WasteType, rep.Amount, rep.ImageURL, rep.VerificationResult)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ReportRepo) GetByID(ctx context.Context, id int64) (*entity.Report, error) {
	var out entity.Report
	if err := sqlx.GetContext(ctx, r.db, &out, `SELECT `+reportColumns+` FROM reports WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns reports matching f, newest first.
func (r *ReportRepo) List(ctx context.Context, f entity.Filter) ([]*entity.Report, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+"$"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		add("status=", f.Status)
	}
	if f.UserID != 0 {
		add("user_id=", f.UserID)
	}
	if f.CollectorID != 0 {
		add("collector_id=", f.CollectorID)
	}
	if f.WasteType != "" {
		add("waste_type=", f.WasteType)
	}
	q := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	out := []*entity.Report{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Claim moves a pending report to in_progress for collectorID. It returns
// sql.ErrNoRows when the report is missing or no longer pending.
func (r *ReportRepo) Claim(ctx context.Context, id, collectorID int64) (*entity.Report, error) {
	const q = `UPDATE reports
		SET status='in_progress', collector_id=$2, version=version+1, updated_at=NOW()
		WHERE id=$1 AND status='pending'
		RETURNING ` + reportColumns
	var out entity.Report
	if err := sqlx.GetContext(ctx, r.db, &out, q, id, collectorID); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkVerified moves an in_progress report held by collectorID to verified,
// storing result when given. It returns sql.ErrNoRows when the guard fails.
func (r *ReportRepo) MarkVerified(ctx context.Context, id, collectorID int64, result *json.RawMessage) (*entity.Report, error) {
	const q = `UPDATE reports
		SET status='verified', verification_result=COALESCE($3, verification_result), version=version+1, updated_at=NOW()
		WHERE id=$1 AND status='in_progress' AND collector_id=$2
		RETURNING ` + reportColumns
	var out entity.Report
	if err := sqlx.GetContext(ctx, r.db, &out, q, id, collectorID, result); err != nil {
		return nil, err
	}
	return &out, nil
}
