package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/auth"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/vision"
)

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the handlers and cross-cutting pieces mounted by RegisterRoutes.
type Deps struct {
	Logger        *zap.SugaredLogger
	Auth          *auth.Authenticator
	Limiter       ratelimit.Limiter
	TrustProxy    bool
	DB            Pinger
	Users         *user.Handler
	Reports       *report.Handler
	Rewards       *reward.Handler
	Notifications *notification.Handler
	Events        *event.Handler
	Vision        *vision.Handler
}

// RegisterRoutes mounts HTTP handlers on the standard library's
// http.ServeMux and wraps them as request id, logging, security headers
// and then session resolution.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	signedIn := auth.Require
	limited := func(scope string, h http.HandlerFunc) http.HandlerFunc {
		return ratelimit.Middleware(d.Limiter, scope, d.Logger, ratelimit.TrustForwardedFor(d.TrustProxy))(h)
	}

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		if d.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.DB.PingContext(ctx); err != nil {
				d.Logger.Warnw("health check failed", "err", err)
				api.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// users
	mux.HandleFunc("GET /api/users/me", signedIn(d.Users.Me))
	mux.HandleFunc("GET /api/users/{id}/stats", d.Users.Stats)
	mux.HandleFunc("GET /api/leaderboard", d.Users.Leaderboard)

	// reports and collections
	mux.HandleFunc("GET /api/reports", d.Reports.List)
	mux.HandleFunc("POST /api/reports", signedIn(limited("reports", d.Reports.Create)))
	mux.HandleFunc("GET /api/reports/{id}", d.Reports.Get)
	mux.HandleFunc("PATCH /api/reports/{id}", signedIn(d.Reports.Update))
	mux.HandleFunc("POST /api/reports/{id}/collect", signedIn(limited("collect", d.Reports.Collect)))
	mux.HandleFunc("POST /api/collections", signedIn(d.Reports.CreateCollection))
	mux.HandleFunc("GET /api/collections", d.Reports.Collections)

	// rewards and ledger
	mux.HandleFunc("POST /api/rewards/points", signedIn(d.Rewards.UpdatePoints))
	mux.HandleFunc("GET /api/rewards/points", signedIn(d.Rewards.Balance))
	mux.HandleFunc("GET /api/rewards", d.Rewards.Catalog)
	mux.HandleFunc("POST /api/rewards/{id}/redeem", signedIn(d.Rewards.Redeem))
	mux.HandleFunc("GET /api/transactions", signedIn(d.Rewards.Transactions))

	// notifications
	mux.HandleFunc("POST /api/notifications", signedIn(d.Notifications.Create))
	mux.HandleFunc("GET /api/notifications", signedIn(d.Notifications.List))
	mux.HandleFunc("PATCH /api/notifications/{id}/read", signedIn(d.Notifications.MarkRead))

	// events
	mux.HandleFunc("GET /api/events", d.Events.List)
	mux.HandleFunc("POST /api/events", signedIn(d.Events.Create))
	mux.HandleFunc("GET /api/events/{id}", d.Events.Get)
	mux.HandleFunc("POST /api/events/{id}/register", signedIn(d.Events.Register))
	mux.HandleFunc("GET /api/events/{id}/qr", signedIn(d.Events.QR))
	mux.HandleFunc("POST /api/events/{id}/verify", signedIn(d.Events.Verify))
	mux.HandleFunc("GET /api/events/{id}/attendance", signedIn(d.Events.Attendance))

	// vision proxy
	mux.HandleFunc("POST /api/gemini", signedIn(limited("gemini", d.Vision.Analyze)))

	var handler http.Handler = mux
	if d.Auth != nil {
		handler = d.Auth.Middleware(d.Logger)(handler)
	}
	handler = SecurityHeadersMiddleware()(handler)
	handler = LoggingMiddleware(d.Logger)(handler)
	return RequestIDMiddleware()(handler)
}
