package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/outs/outs-auth-go/internal/model"
)

const userColumns = `id, email, password_hash, name, role, current_hashed_refresh_token, created_at, updated_at`

// SQLStore implements Store over database/sql for MySQL and SQLite, which
// share placeholder syntax and column types as far as this table goes.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new user and sets the generated ID and timestamps on it.
func (s *SQLStore) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	user.Email = NormalizeEmail(user.Email)
	now := s.now()

	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, nullString(user.Name), user.Role,
		nullString(user.CurrentHashedRefreshToken), now, now,
	)
	if err != nil {
		if s.isDuplicateEntryError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByEmail retrieves a user by their email address.
func (s *SQLStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ? LIMIT 1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
}

// GetByID retrieves a user by their ID.
func (s *SQLStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ? LIMIT 1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// SetRefreshTokenHash stores (or clears) the hash of the user's current refresh token.
func (s *SQLStore) SetRefreshTokenHash(ctx context.Context, id string, hash *string) error {
	query := `UPDATE users SET current_hashed_refresh_token = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, nullString(hash), s.now(), id); err != nil {
		return fmt.Errorf("update refresh token hash: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Migrate(ctx context.Context, direction MigrateDirection) error {
	return migrate(ctx, s.db, s.dialect, direction)
}

func (s *SQLStore) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	return migrationStatus(ctx, s.db, s.dialect)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var name, refreshHash sql.NullString

	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &name, &user.Role,
		&refreshHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if name.Valid {
		user.Name = &name.String
	}
	if refreshHash.Valid {
		user.CurrentHashedRefreshToken = &refreshHash.String
	}
	return user, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// isDuplicateEntryError recognises MySQL error 1062 and SQLite UNIQUE violations.
func (s *SQLStore) isDuplicateEntryError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLStore)(nil)
