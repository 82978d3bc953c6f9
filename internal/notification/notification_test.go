package notification

import (
	"context"
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
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/repo"
	userentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/entity"
)

type stubUsers struct{ u *userentity.User }

func (s stubUsers) Current(context.Context) (*userentity.User, error) {
	if s.u == nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.u, nil
}

type noAdmins struct{}

func (noAdmins) IsAdmin(string) bool { return false }

func newService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(repo.NewNotificationRepo(sqlx.NewDb(db, "postgres"))), mock
}

func TestCreate_CanonicalType(t *testing.T) {
	svc, mock := newService(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO notifications (user_id, message, type)")).
		WithArgs(int64(4), "You earned 50 points", "reward").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_read", "created_at"}).AddRow(11, false, time.Now()))

	n, err := svc.Create(context.Background(), CreateInput{UserID: 4, Message: " You earned 50 points ", Type: "Reward"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), n.ID)
	assert.Equal(t, "reward", n.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), CreateInput{UserID: 4, Message: "", Type: "spam"})
	v, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Len(t, v.Details, 2)
}

func TestMarkRead_OnlyOwn(t *testing.T) {
	svc, mock := newService(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = true WHERE id=$1 AND user_id=$2")).
		WithArgs(int64(11), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.MarkRead(context.Background(), 11, 5)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHandler_ListForbiddenForOthers(t *testing.T) {
	svc, _ := newService(t)
	h := NewHandler(svc, stubUsers{u: &userentity.User{ID: 5}}, noAdmins{}, zap.NewNop().Sugar())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/notifications?userId=6", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_ListOwnUnread(t *testing.T) {
	svc, mock := newService(t)
	h := NewHandler(svc, stubUsers{u: &userentity.User{ID: 5}}, noAdmins{}, zap.NewNop().Sugar())

	mock.ExpectQuery(regexp.QuoteMeta("AND is_read = false ORDER BY created_at DESC")).
		WithArgs(int64(5), 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "message", "type", "is_read", "created_at"}).
			AddRow(1, 5, "You earned 50 points", "reward", false, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/notifications?unread=true", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unread":1`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_CreateRequiresSession(t *testing.T) {
	svc, _ := newService(t)
	h := NewHandler(svc, stubUsers{}, noAdmins{}, zap.NewNop().Sugar())
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader(`{"message":"hi","type":"system"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
