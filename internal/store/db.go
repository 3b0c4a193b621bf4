package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB and knows which placeholder dialect the backend speaks.
// Queries are written with ? placeholders; Postgres rewrites them to $N.
type DB struct {
	Client   *sql.DB
	postgres bool
}

// Open connects to the configured backend: "postgres" (pgx) or "sqlite".
func Open(backend, postgresURL, sqlitePath string) (*DB, error) {
	switch backend {
	case "postgres":
		db, err := sql.Open("pgx", postgresURL)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		return &DB{Client: db, postgres: true}, db.PingContext(context.Background())
	case "sqlite":
		db, err := sql.Open("sqlite3", sqlitePath)
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer; serialising connections avoids
		// SQLITE_BUSY under concurrent submissions.
		db.SetMaxOpenConns(1)
		return &DB{Client: db}, db.PingContext(context.Background())
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// Rebind rewrites ? placeholders to $N for Postgres.
func (d *DB) Rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExecContext runs a statement after placeholder rewriting.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.Client.ExecContext(ctx, d.Rebind(query), args...)
}

// QueryContext runs a query after placeholder rewriting.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.Client.QueryContext(ctx, d.Rebind(query), args...)
}

// QueryRowContext runs a single-row query after placeholder rewriting.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.Client.QueryRowContext(ctx, d.Rebind(query), args...)
}

// BeginTx starts a transaction on the underlying pool.
func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.Client.BeginTx(ctx, nil)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// EnsureSchema creates the tables and unique constraints the service relies
// on. The unique indexes are the correctness boundary for duplicate
// prevention, not the application-level pre-checks.
func (d *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			token      TEXT PRIMARY KEY,
			passkey    TEXT NOT NULL,
			subject    TEXT NOT NULL,
			issued_at  TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sessions_passkey_subject ON sessions (passkey, subject)`,
		`CREATE TABLE IF NOT EXISTS participants (
			roll       TEXT NOT NULL,
			scope      TEXT NOT NULL,
			name       TEXT NOT NULL,
			cohort     TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (roll, scope)
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id          TEXT PRIMARY KEY,
			roll        TEXT NOT NULL,
			subject     TEXT NOT NULL,
			dedup_key   TEXT NOT NULL,
			session_ref TEXT NOT NULL,
			name        TEXT NOT NULL,
			marked_at   TIMESTAMP NOT NULL,
			UNIQUE (roll, subject, dedup_key)
		)`,
		`CREATE INDEX IF NOT EXISTS attendance_session_ref ON attendance_records (session_ref)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
