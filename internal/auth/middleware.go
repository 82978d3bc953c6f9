package auth

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
)

// Middleware attaches the principal to the request context when the request
// carries a valid session. Requests without one continue anonymously; an
// invalid token is logged and also treated as anonymous so public reads keep
// working. Use Require on routes that need a user.
func (a *Authenticator) Middleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.FromRequest(r)
			if err != nil {
				if !errors.Is(err, ErrMissingToken) {
					logger.Debugw("session rejected", "path", r.URL.Path, "err", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Require rejects anonymous requests with 401.
func Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			api.WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

// AdminChecker reports whether a subject may call operator endpoints.
type AdminChecker interface {
	IsAdmin(subject string) bool
}

// CallerIsAdmin reports whether the request's principal is an operator.
func CallerIsAdmin(a AdminChecker, r *http.Request) bool {
	p, ok := PrincipalFrom(r.Context())
	return ok && a != nil && a.IsAdmin(p.Subject)
}
