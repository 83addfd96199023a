package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"

	"github.com/outs/outs-auth-go/internal/observability"
	"github.com/outs/outs-auth-go/internal/ratelimit"
)

const tooManyRequestsMessage = "Too many requests. Please try again later."

// Limiter decides whether a client key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// ClientKeyFunc picks the client identifier for rate limiting. With
// trustProxy the first X-Forwarded-For / X-Real-IP / True-Client-IP entry
// wins; otherwise only the socket address is used.
func ClientKeyFunc(trustProxy bool) httprate.KeyFunc {
	if trustProxy {
		return httprate.KeyByRealIP
	}
	return httprate.KeyByIP
}

// RateLimit rejects requests over the limiter's budget with 429. If the
// counter store fails the request is let through and the error logged.
func RateLimit(limiter Limiter, keyFunc httprate.KeyFunc, logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := keyFunc(r)
			if err != nil || key == "" {
				key = "unknown"
			}

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("rate limit store failed, allowing request",
					"error", err,
					"path", r.URL.Path,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining()))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				logger.Warn("rate limit exceeded",
					"client", key,
					"method", r.Method,
					"path", r.URL.Path,
					"count", decision.Count,
				)
				metrics.RateLimited(r)

				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
				writeJSONError(w, http.StatusTooManyRequests, tooManyRequestsMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
