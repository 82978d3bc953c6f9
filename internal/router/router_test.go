package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/auth"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/cache"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification"
	notifrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/vision"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func newHandler(t *testing.T, pinger Pinger, limiter ratelimit.Limiter) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sdb := sqlx.NewDb(db, "postgres")
	logger := zap.NewNop().Sugar()

	authn, err := auth.NewAuthenticator(auth.Config{DevBypass: true})
	require.NoError(t, err)
	users := user.NewUserService(userrepo.NewUserRepo(sdb), cache.NewMemory(), time.Minute, logger)
	rewards := reward.NewService(sdb, users, logger)
	notes := notifrepo.NewNotificationRepo(sdb)
	signer, err := event.NewSigner("secret")
	require.NoError(t, err)
	verifier := vision.NewVerifier(nil, 0.7, nil, logger)

	return RegisterRoutes(Deps{
		Logger:        logger,
		Auth:          authn,
		Limiter:       limiter,
		DB:            pinger,
		Users:         user.NewHandler(users, logger),
		Reports:       report.NewHandler(report.NewService(report.Deps{DB: sdb, Rewards: rewards, Notifications: notes, Verifier: verifier, Cache: users, Logger: logger}), users, logger),
		Rewards:       reward.NewHandler(rewards, users, authn, logger),
		Notifications: notification.NewHandler(notification.NewService(notes), users, authn, logger),
		Events:        event.NewHandler(event.NewService(sdb, signer, users, logger), users, logger),
		Vision:        vision.NewHandler(verifier, logger),
	}), mock
}

func TestHealth(t *testing.T) {
	h, _ := newHandler(t, fakePinger{}, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	h, _ = newHandler(t, fakePinger{err: errors.New("connection refused")}, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestID(t *testing.T) {
	h, _ := newHandler(t, fakePinger{}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	_, err := uuid.Parse(w.Header().Get("X-Request-ID"))
	assert.NoError(t, err)

	inbound := uuid.NewString()
	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	r.Header.Set("X-Request-ID", inbound)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, inbound, w.Header().Get("X-Request-ID"))

	r = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	r.Header.Set("X-Request-ID", "<script>")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.NotEqual(t, "<script>", w.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	h, _ := newHandler(t, fakePinger{}, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestWritesRequireSession(t *testing.T) {
	h, mock := newHandler(t, fakePinger{}, nil)
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/reports"},
		{http.MethodPatch, "/api/reports/7"},
		{http.MethodPost, "/api/collections"},
		{http.MethodPost, "/api/rewards/points"},
		{http.MethodPost, "/api/events/17/verify"},
		{http.MethodPost, "/api/gemini"},
		{http.MethodGet, "/api/users/me"},
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(route.method, route.path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, w.Code, route.method+" "+route.path)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newHandler(t, fakePinger{}, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/reports/7", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestVisionRouteIsRateLimited(t *testing.T) {
	h, _ := newHandler(t, fakePinger{}, ratelimit.NewMemory(ratelimit.Config{Limit: 1, Window: time.Minute}))
	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/gemini", strings.NewReader(`{"mode":"classify"}`))
		r.Header.Set("X-User-Sub", "user_1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}
	first := send()
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)
	second := send()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}
