package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/outs/outs-auth-go/internal/model"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// UserRepository is the user store as seen by the auth service.
type UserRepository interface {
	// Create inserts a user, assigning an id when empty.
	// Returns ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, user *model.User) error

	// GetByEmail looks a user up by trimmed, lower-cased email.
	// Returns ErrUserNotFound if no user matches.
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// GetByID returns ErrUserNotFound if the id does not resolve.
	GetByID(ctx context.Context, id string) (*model.User, error)

	// SetRefreshTokenHash overwrites the stored refresh token hash and bumps
	// updated_at in a single statement. A nil hash clears the session.
	// Updating an unknown id is not an error.
	SetRefreshTokenHash(ctx context.Context, id string, hash *string) error
}

// Store is a UserRepository backed by a live database connection.
type Store interface {
	UserRepository
	Ping(ctx context.Context) error
	Migrate(ctx context.Context, direction MigrateDirection) error
	MigrationStatus(ctx context.Context) ([]MigrationState, error)
	Close() error
}

// NormalizeEmail trims surrounding whitespace and lower-cases an email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
