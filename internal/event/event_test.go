package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event/entity"
	userentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/entity"
)

const (
	eventID     = "1790000000000000001"
	organizerID = int64(3)
	participant = int64(42)
)

var (
	eventCols = []string{"id", "organizer_id", "title", "description", "date", "time", "location", "latitude", "longitude",
		"category", "max_participants", "image_url", "status", "created_at", "participant_count"}
	regCols  = []string{"id", "event_id", "user_id", "qr_code", "registered_at"}
	userCols = []string{"id", "clerk_id", "email", "name", "avatar_url", "points", "created_at", "updated_at"}

	selectEventSQL  = regexp.QuoteMeta("FROM events e WHERE e.id=$1")
	lockEventSQL    = regexp.QuoteMeta("FROM events WHERE id=$1 FOR UPDATE")
	selectRegSQL    = regexp.QuoteMeta("FROM event_registrations WHERE event_id=$1 AND user_id=$2")
	countRegSQL     = regexp.QuoteMeta("SELECT COUNT(*) FROM event_registrations WHERE event_id=$1")
	insertRegSQL    = regexp.QuoteMeta("INSERT INTO event_registrations (id, event_id, user_id, qr_code)")
	insertAttendSQL = regexp.QuoteMeta("INSERT INTO event_attendance (event_id, user_id, verified_by)")
	selectUserSQL   = regexp.QuoteMeta("FROM users WHERE id=$1")
	notifySQL       = regexp.QuoteMeta("INSERT INTO notifications (user_id, message, type)")
)

type recordingCache struct{ ids []int64 }

func (c *recordingCache) Invalidate(_ context.Context, ids ...int64) { c.ids = append(c.ids, ids...) }

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *recordingCache) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c := &recordingCache{}
	svc := NewService(sqlx.NewDb(db, "postgres"), newSigner(t, "app-secret"), c, zap.NewNop().Sugar())
	svc.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
	return svc, mock, c
}

func eventRow(max int, count int64) *sqlmock.Rows {
	return sqlmock.NewRows(eventCols).AddRow(eventID, organizerID, "Beach cleanup", "", "2026-11-02", "09:30",
		"North beach", nil, nil, "cleanup", max, nil, "upcoming", time.Now(), count)
}

func lockRow(max int, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "organizer_id", "max_participants", "status"}).AddRow(eventID, organizerID, max, status)
}

func TestCreate_Validates(t *testing.T) {
	svc, mock, _ := newService(t)
	_, err := svc.Create(context.Background(), organizerID, CreateInput{
		Title: "Beach cleanup", Date: "02/11/2026", Time: "9am", Location: "North beach", Category: "party",
	})
	v, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{
		"date must be a date in YYYY-MM-DD form",
		"time must be a time in HH:MM form",
		"category must be one of [cleanup, recycling, planting, awareness, workshop]",
	}, v.Details)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_AssignsSnowflakeID(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "created_at"}).AddRow("upcoming", time.Now()))

	e, err := svc.Create(context.Background(), organizerID, CreateInput{
		Title: "Beach cleanup", Date: "2026-11-02", Time: "09:30", Location: "North beach", Category: "CLEANUP", MaxParticipants: 20,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "cleanup", e.Category)
	assert.Equal(t, entity.StatusUpcoming, e.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_UpcomingFromToday(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.status='upcoming' AND e.date>=$1 AND e.category=$2 ORDER BY e.date, e.time, e.id LIMIT $3 OFFSET $4")).
		WithArgs("2026-10-16", "planting", 50, 0).
		WillReturnRows(eventRow(0, 4))

	items, err := svc.List(context.Background(), true, "Planting", 50, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(4), items[0].ParticipantCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_IssuesSignedCode(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockEventSQL).WithArgs(eventID).WillReturnRows(lockRow(20, "upcoming"))
	mock.ExpectQuery(selectRegSQL).WithArgs(eventID, participant).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(countRegSQL).WithArgs(eventID).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(19))
	mock.ExpectQuery(insertRegSQL).WithArgs(sqlmock.AnyArg(), eventID, participant, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"registered_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	reg, created, err := svc.Register(context.Background(), eventID, participant)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, reg.ID, 27)
	tk, err := svc.signer.Parse(reg.QRCode)
	require.NoError(t, err)
	assert.Equal(t, eventID, tk.EventID)
	assert.Equal(t, participant, tk.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Idempotent(t *testing.T) {
	svc, mock, _ := newService(t)
	code := svc.signer.Sign(eventID, participant)
	mock.ExpectBegin()
	mock.ExpectQuery(lockEventSQL).WithArgs(eventID).WillReturnRows(lockRow(20, "upcoming"))
	mock.ExpectQuery(selectRegSQL).WithArgs(eventID, participant).
		WillReturnRows(sqlmock.NewRows(regCols).AddRow("2Abc", eventID, participant, code, time.Now()))
	mock.ExpectCommit()

	reg, created, err := svc.Register(context.Background(), eventID, participant)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, code, reg.QRCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Full(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockEventSQL).WithArgs(eventID).WillReturnRows(lockRow(20, "upcoming"))
	mock.ExpectQuery(selectRegSQL).WithArgs(eventID, participant).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(countRegSQL).WithArgs(eventID).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(20))
	mock.ExpectRollback()

	_, _, err := svc.Register(context.Background(), eventID, participant)
	assert.ErrorIs(t, err, ErrEventFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Closed(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockEventSQL).WithArgs(eventID).WillReturnRows(lockRow(0, "cancelled"))
	mock.ExpectQuery(selectRegSQL).WithArgs(eventID, participant).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := svc.Register(context.Background(), eventID, participant)
	assert.ErrorIs(t, err, ErrEventClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

// expectScan queues the reads that precede recording attendance.
func expectScan(mock sqlmock.Sqlmock, code string) {
	now := time.Now()
	mock.ExpectQuery(selectEventSQL).WithArgs(eventID).WillReturnRows(eventRow(20, 5))
	mock.ExpectQuery(selectRegSQL).WithArgs(eventID, participant).
		WillReturnRows(sqlmock.NewRows(regCols).AddRow("2Abc", eventID, participant, code, now))
	mock.ExpectQuery(selectUserSQL).WithArgs(participant).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(participant, "user_42", "ana@example.com", "Ana", nil, 120, now, now))
}

func TestVerifyAttendance_RecordsOnceThenDuplicate(t *testing.T) {
	svc, mock, c := newService(t)
	code := svc.signer.Sign(eventID, participant)
	now := time.Now()

	expectScan(mock, code)
	mock.ExpectBegin()
	mock.ExpectQuery(insertAttendSQL).WithArgs(eventID, participant, organizerID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "verified_at"}).AddRow(1, now))
	mock.ExpectQuery(notifySQL).WithArgs(participant, sqlmock.AnyArg(), "event").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_read", "created_at"}).AddRow(1, false, now))
	mock.ExpectCommit()

	expectScan(mock, code)
	mock.ExpectBegin()
	mock.ExpectQuery(insertAttendSQL).WithArgs(eventID, participant, organizerID).WillReturnRows(sqlmock.NewRows([]string{"id", "verified_at"}))
	mock.ExpectRollback()

	ctx := context.Background()
	out, err := svc.VerifyAttendance(ctx, eventID, organizerID, code)
	require.NoError(t, err)
	assert.Equal(t, "verified", out.Status)
	assert.Equal(t, "Ana", out.ParticipantName)
	assert.Equal(t, []int64{participant}, c.ids)

	_, err = svc.VerifyAttendance(ctx, eventID, organizerID, code)
	assert.ErrorIs(t, err, ErrDuplicateAttendance)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyAttendance_Rejections(t *testing.T) {
	t.Run("other event", func(t *testing.T) {
		svc, mock, _ := newService(t)
		_, err := svc.VerifyAttendance(context.Background(), eventID, organizerID, svc.signer.Sign("99", participant))
		assert.ErrorIs(t, err, ErrEventMismatch)
		assert.ErrorIs(t, err, apperr.ErrInvalid)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("forged", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.VerifyAttendance(context.Background(), eventID, organizerID, "EVENT:"+eventID+":42:1791000000000")
		assert.ErrorIs(t, err, ErrInvalidTicket)
	})
	t.Run("not organizer", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(selectEventSQL).WithArgs(eventID).WillReturnRows(eventRow(20, 5))
		_, err := svc.VerifyAttendance(context.Background(), eventID, 77, svc.signer.Sign(eventID, participant))
		assert.ErrorIs(t, err, ErrNotOrganizer)
	})
	t.Run("not registered", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(selectEventSQL).WithArgs(eventID).WillReturnRows(eventRow(20, 5))
		mock.ExpectQuery(selectRegSQL).WithArgs(eventID, participant).WillReturnError(sql.ErrNoRows)
		_, err := svc.VerifyAttendance(context.Background(), eventID, organizerID, svc.signer.Sign(eventID, participant))
		assert.ErrorIs(t, err, ErrNotRegistered)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

type stubUsers struct{ user *userentity.User }

func (s stubUsers) Current(context.Context) (*userentity.User, error) { return s.user, nil }

func TestHandler_VerifyDuplicate(t *testing.T) {
	svc, mock, _ := newService(t)
	h := NewHandler(svc, stubUsers{user: &userentity.User{ID: organizerID}}, zap.NewNop().Sugar())
	code := svc.signer.Sign(eventID, participant)
	expectScan(mock, code)
	mock.ExpectBegin()
	mock.ExpectQuery(insertAttendSQL).WillReturnRows(sqlmock.NewRows([]string{"id", "verified_at"}))
	mock.ExpectRollback()

	body, _ := json.Marshal(VerifyRequest{QRData: code})
	r := httptest.NewRequest(http.MethodPost, "/api/events/"+eventID+"/verify", strings.NewReader(string(body)))
	r.SetPathValue("id", eventID)
	w := httptest.NewRecorder()
	h.Verify(w, r)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["status"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_VerifyMismatchIsBadRequest(t *testing.T) {
	svc, _, _ := newService(t)
	h := NewHandler(svc, stubUsers{user: &userentity.User{ID: organizerID}}, zap.NewNop().Sugar())
	body, _ := json.Marshal(VerifyRequest{QRData: svc.signer.Sign("99", participant)})
	r := httptest.NewRequest(http.MethodPost, "/api/events/"+eventID+"/verify", strings.NewReader(string(body)))
	r.SetPathValue("id", eventID)
	w := httptest.NewRecorder()
	h.Verify(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_QR(t *testing.T) {
	svc, mock, _ := newService(t)
	h := NewHandler(svc, stubUsers{user: &userentity.User{ID: participant}}, zap.NewNop().Sugar())
	mock.ExpectQuery(selectRegSQL).WithArgs(eventID, participant).
		WillReturnRows(sqlmock.NewRows(regCols).AddRow("2Abc", eventID, participant, svc.signer.Sign(eventID, participant), time.Now()))

	r := httptest.NewRequest(http.MethodGet, "/api/events/"+eventID+"/qr", nil)
	r.SetPathValue("id", eventID)
	w := httptest.NewRecorder()
	h.QR(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.NoError(t, mock.ExpectationsWereMet())
}
