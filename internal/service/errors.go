package service

import (
	"errors"

	"github.com/outs/outs-auth-go/internal/repository"
)

// Errors returned to callers. Their text is safe to show to clients.
var (
	ErrMissingCredentials     = errors.New("Email and password are required")
	ErrInvalidCredentials     = errors.New("Invalid credentials")
	ErrMissingRefreshToken    = errors.New("No refresh token provided")
	ErrInvalidRefreshToken    = errors.New("Invalid refresh token")
	ErrUserNotFound           = errors.New("User not found")
	ErrNoRefreshTokenOnRecord = errors.New("No refresh token on record")
	ErrInvalidUserInput       = errors.New("invalid user input")
	ErrEmailTaken             = errors.New("email already taken")
)

// Outcome codes used in logs and metrics. They never appear in responses.
const (
	CodeOK                 = "ok"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeMissingFields      = "missing_fields"
	CodeNotFound           = "not_found"
	CodeRateLimited        = "rate_limited"
	CodeConflict           = "conflict"
	CodeInternal           = "internal"
)

// ErrorCode classifies err into one of the outcome codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrInvalidUserInput):
		return CodeMissingFields
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrMissingRefreshToken),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrNoRefreshTokenOnRecord):
		return CodeInvalidToken
	case errors.Is(err, ErrUserNotFound), errors.Is(err, repository.ErrUserNotFound):
		return CodeNotFound
	case errors.Is(err, ErrEmailTaken):
		return CodeConflict
	default:
		return CodeInternal
	}
}
