package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/auth"
)

type options struct {
	trustForwarded bool
}

// Option configures Middleware.
type Option func(*options)

// TrustForwardedFor keys anonymous callers by the first X-Forwarded-For
// address. Enable it only behind a proxy that overwrites the header.
func TrustForwardedFor(trust bool) Option {
	return func(o *options) { o.trustForwarded = trust }
}

// Middleware limits requests per authenticated subject, falling back to the
// client IP. Limiter errors let the request through.
func Middleware(l Limiter, scope string, logger *zap.SugaredLogger, opts ...Option) func(http.HandlerFunc) http.HandlerFunc {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next(w, r)
				return
			}
			key := scope + ":" + identify(r, o.trustForwarded)
			d, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.Warnw("rate limiter unavailable", "key", key, "err", err)
				next(w, r)
				return
			}
			if !d.Allowed {
				logger.Debugw("rate limited", "key", key, "retry_after", d.RetryAfter)
				api.WriteTooManyRequests(w, int(math.Ceil(d.RetryAfter.Seconds())))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next(w, r)
		}
	}
}

func identify(r *http.Request, trustForwarded bool) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return "user:" + p.Subject
	}
	if trustForwarded {
		if fwd, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(fwd) != "" {
			return "ip:" + strings.TrimSpace(fwd)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
