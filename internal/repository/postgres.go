package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/outs/outs-auth-go/internal/model"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("repository/postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("repository/postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository/postgres: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	user.Email = NormalizeEmail(user.Email)

	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, current_hashed_refresh_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Role, user.CurrentHashedRefreshToken,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.queryUser(ctx, `
		SELECT id::text, email, password_hash, name, role, current_hashed_refresh_token, created_at, updated_at
		FROM users WHERE email = $1 LIMIT 1`, NormalizeEmail(email))
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	return s.queryUser(ctx, `
		SELECT id::text, email, password_hash, name, role, current_hashed_refresh_token, created_at, updated_at
		FROM users WHERE id = $1 LIMIT 1`, id)
}

func (s *PostgresStore) SetRefreshTokenHash(ctx context.Context, id string, hash *string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET current_hashed_refresh_token = $1, updated_at = now() WHERE id = $2`,
		hash, id,
	)
	if err != nil {
		return fmt.Errorf("update refresh token hash: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate runs goose over a database/sql view of the pool. Closing that view
// leaves the pool open.
func (s *PostgresStore) Migrate(ctx context.Context, direction MigrateDirection) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return migrate(ctx, db, DialectPostgres, direction)
}

func (s *PostgresStore) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return migrationStatus(ctx, db, DialectPostgres)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryUser(ctx context.Context, query string, arg string) (*model.User, error) {
	user := &model.User{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Role,
		&user.CurrentHashedRefreshToken, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

var _ Store = (*PostgresStore)(nil)
