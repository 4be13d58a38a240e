package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/partscan-backend/api/responses"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/partscan-backend/pkg/redis"
)

type fixedWindowStore interface {
	FixedWindow(ctx context.Context, scope string, limit int64, window time.Duration) (pkgredis.Window, error)
}

// RateLimitPolicy is a fixed-window budget for one traffic surface.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int
}

func NewRateLimitPolicy(name string, window time.Duration, limit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:   strings.ToLower(strings.TrimSpace(name)),
		window: window,
		limit:  limit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "default"
	}
	return p.name
}

// OperatorRateLimit throttles each operator (client IP when X-Operator is absent)
// to policy.limit requests per window.
func OperatorRateLimit(policy RateLimitPolicy, store fixedWindowStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject := "op:" + OperatorFromContext(ctx)
			if subject == "op:" {
				subject = "ip:" + clientIP(r)
			}
			scope := policy.normalizedName() + ":" + subject

			win, err := store.FixedWindow(ctx, scope, int64(policy.limit), policy.window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !win.Allowed {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"policy":         policy.normalizedName(),
						"subject":        subject,
						"attempts":       win.Count,
						"limit":          policy.limit,
						"window_seconds": policy.window.Seconds(),
					})
					logg.Warn(logCtx, "rate_limit.blocked")
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(win.ResetIn, policy.window)))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds the remaining window up to whole seconds, falling
// back to the full window when the store did not report one.
func retryAfterSeconds(resetIn, window time.Duration) int {
	if resetIn <= 0 {
		resetIn = window
	}
	secs := int((resetIn + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
