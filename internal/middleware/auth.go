package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/outs/outs-auth-go/internal/crypto"
	"github.com/outs/outs-auth-go/internal/model"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	claimsKey contextKey = "claims"
)

// TokenVerifier checks a signed token of the given kind.
type TokenVerifier interface {
	Verify(kind crypto.TokenKind, token string) (*crypto.Claims, bool)
}

// JWTAuth returns middleware that requires a valid access token in the
// Authorization header and stores its subject in the request context.
func JWTAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "No access token provided")
				return
			}

			claims, ok, panicked := verifyAccess(verifier, token)
			if panicked != nil {
				logger.Error("access token verification panicked", "panic", panicked, "path", r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "Unauthenticated request")
				return
			}
			if !ok || claims.Subject == "" {
				writeJSONError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyAccess(verifier TokenVerifier, token string) (claims *crypto.Claims, ok bool, panicked any) {
	defer func() {
		if rec := recover(); rec != nil {
			claims, ok, panicked = nil, false, rec
		}
	}()
	claims, ok = verifier.Verify(crypto.AccessToken, token)
	return claims, ok, nil
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// matched case-insensitively.
func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// ClaimsFromContext returns the verified access token claims, if any.
func ClaimsFromContext(ctx context.Context) (*crypto.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*crypto.Claims)
	return claims, ok
}

// WithUserID returns a copy of ctx carrying id, as JWTAuth would set it.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.Envelope{Success: false, Message: msg})
}
