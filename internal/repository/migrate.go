package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var embedMigrations embed.FS

// Dialect names a supported database backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// MigrateDirection selects goose up (all pending) or down (one step).
type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// MigrationState describes one migration for `authctl migrate status`.
type MigrationState struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

func newProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	var gd goose.Dialect
	switch dialect {
	case DialectPostgres:
		gd = goose.DialectPostgres
	case DialectMySQL:
		gd = goose.DialectMySQL
	case DialectSQLite:
		gd = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	fsys, err := fs.Sub(embedMigrations, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	return goose.NewProvider(gd, db, fsys)
}

func migrate(ctx context.Context, db *sql.DB, dialect Dialect, direction MigrateDirection) error {
	provider, err := newProvider(db, dialect)
	if err != nil {
		return err
	}

	switch direction {
	case MigrateUp:
		if _, err := provider.Up(ctx); err != nil {
			return fmt.Errorf("goose up failed: %w", err)
		}
	case MigrateDown:
		if _, err := provider.Down(ctx); err != nil {
			return fmt.Errorf("goose down failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
	return nil
}

func migrationStatus(ctx context.Context, db *sql.DB, dialect Dialect) ([]MigrationState, error) {
	provider, err := newProvider(db, dialect)
	if err != nil {
		return nil, err
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status failed: %w", err)
	}

	out := make([]MigrationState, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, MigrationState{
			Version:   st.Source.Version,
			Path:      st.Source.Path,
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}
