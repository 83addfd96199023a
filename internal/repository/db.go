package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Open connects to the database named by databaseURL and returns the matching
// Store. driver may be empty, in which case it is inferred from the URL.
func Open(ctx context.Context, driver, databaseURL string) (Store, error) {
	dialect, dsn, err := ResolveDSN(driver, databaseURL)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectPostgres:
		return NewPostgresStore(ctx, dsn)
	case DialectMySQL:
		return NewMySQLStore(ctx, dsn)
	default:
		return NewSQLiteStore(ctx, dsn)
	}
}

// ResolveDSN picks a dialect and rewrites databaseURL into the form its
// driver expects.
func ResolveDSN(driver, databaseURL string) (Dialect, string, error) {
	raw := strings.TrimSpace(databaseURL)
	if raw == "" {
		return "", "", fmt.Errorf("database url is empty")
	}

	dialect := Dialect(strings.ToLower(strings.TrimSpace(driver)))
	if dialect == "" {
		dialect = inferDialect(raw)
	}

	switch dialect {
	case DialectPostgres:
		if rest, ok := strings.CutPrefix(raw, "postgresql+psycopg2://"); ok {
			raw = "postgresql://" + rest
		}
		return dialect, raw, nil
	case DialectMySQL:
		dsn, err := mysqlDSN(raw)
		if err != nil {
			return "", "", err
		}
		return dialect, dsn, nil
	case DialectSQLite, "sqlite3":
		return DialectSQLite, strings.TrimPrefix(raw, "sqlite://"), nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func inferDialect(raw string) Dialect {
	switch {
	case strings.HasPrefix(raw, "postgres://"),
		strings.HasPrefix(raw, "postgresql://"),
		strings.HasPrefix(raw, "postgresql+psycopg2://"):
		return DialectPostgres
	case strings.HasPrefix(raw, "mysql://"):
		return DialectMySQL
	default:
		return DialectSQLite
	}
}

// mysqlDSN accepts either a mysql:// URL or a native go-sql-driver DSN and
// always enables parseTime.
func mysqlDSN(raw string) (string, error) {
	var cfg *mysql.Config

	if strings.HasPrefix(raw, "mysql://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse mysql url: %w", err)
		}
		cfg = mysql.NewConfig()
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		for key, values := range u.Query() {
			if len(values) == 0 {
				continue
			}
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[key] = values[0]
		}
	} else {
		parsed, err := mysql.ParseDSN(raw)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg = parsed
	}

	delete(cfg.Params, "parseTime")
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// NewMySQLStore opens a MySQL connection pool.
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository/mysql: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository/mysql: ping: %w", err)
	}

	return newSQLStore(db, DialectMySQL), nil
}

// NewSQLiteStore opens a SQLite database. Use ":memory:" in tests.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository/sqlite: open: %w", err)
	}

	// One writer at a time; a single connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("repository/sqlite: set pragma: %w", err)
		}
	}

	return newSQLStore(db, DialectSQLite), nil
}
