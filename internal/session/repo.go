package session

import (
	"context"
	"database/sql"
	"errors"

	"qrattend/internal/store"
)

// Repository persists session rows for the store strategy.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new session row.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, passkey, subject, issued_at, expires_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.Token, s.Passkey, s.Subject, s.IssuedAt, s.ExpiresAt, s.Active)
	return err
}

// Get looks a session up by token, falling back to pass-key lookup when a
// subject hint is supplied. Returns nil when no row matches.
func (r *Repository) Get(ctx context.Context, token, subject string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, passkey, subject, issued_at, expires_at, active
		FROM sessions WHERE token = ?
	`, token)
	s, err := scanSession(row)
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	if subject == "" {
		return nil, nil
	}
	row = r.db.QueryRowContext(ctx, `
		SELECT token, passkey, subject, issued_at, expires_at, active
		FROM sessions WHERE passkey = ? AND subject = ?
	`, token, subject)
	s, err = scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Deactivate forces a session closed ahead of its expiry.
func (r *Repository) Deactivate(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET active = FALSE WHERE token = ?`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.Token, &s.Passkey, &s.Subject, &s.IssuedAt, &s.ExpiresAt, &s.Active); err != nil {
		return nil, err
	}
	return &s, nil
}
