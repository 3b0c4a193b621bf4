// Package registry is the one-time participant directory: a profile is
// captured on first registration and immutable afterwards.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qrattend/internal/clock"
	"qrattend/internal/store"
)

// Scope controls participant identity: one profile per (roll, subject) or a
// single profile per roll across all subjects.
type Scope string

const (
	ScopePerSubject Scope = "subject"
	ScopeGlobal     Scope = "global"
)

// Profile holds the fields captured at registration.
type Profile struct {
	Roll      string    `json:"roll"`
	Name      string    `json:"name"`
	Cohort    string    `json:"cohort,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory persists participant profiles.
type Directory struct {
	db    *store.DB
	scope Scope
	now   clock.Clock
}

// New creates a directory with the configured identity scope.
func New(db *store.DB, scope Scope, now clock.Clock) *Directory {
	if scope != ScopeGlobal {
		scope = ScopePerSubject
	}
	if now == nil {
		now = clock.System
	}
	return &Directory{db: db, scope: scope, now: now}
}

// scopeKey maps a subject onto the storage scope column. Under global scope
// every subject shares one row keyed by the empty scope.
func (d *Directory) scopeKey(subject string) string {
	if d.scope == ScopeGlobal {
		return ""
	}
	return subject
}

// Ensure returns the stored profile for (roll, subject scope), creating it
// from the supplied fields when absent. When a profile already exists the
// supplied fields are ignored and the original is returned with
// created=false. The primary key on (roll, scope) is what actually prevents
// duplicate rows under concurrent first-time registrations.
func (d *Directory) Ensure(ctx context.Context, roll, subject string, profile *Profile) (Profile, bool, error) {
	if roll == "" {
		return Profile{}, false, errors.New("roll required")
	}
	scope := d.scopeKey(subject)

	created := false
	if profile != nil {
		if profile.Name == "" {
			return Profile{}, false, errors.New("name required for first-time registration")
		}
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO participants (roll, scope, name, cohort, email, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (roll, scope) DO NOTHING
		`, roll, scope, profile.Name, profile.Cohort, profile.Email, d.now())
		if err != nil {
			return Profile{}, false, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = true
		}
	}

	stored, err := d.Get(ctx, roll, subject)
	if err != nil {
		return Profile{}, false, err
	}
	if stored == nil {
		return Profile{}, false, errors.New("participant not registered; profile required")
	}
	return *stored, created, nil
}

// Get returns the stored profile or nil when none exists.
func (d *Directory) Get(ctx context.Context, roll, subject string) (*Profile, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT roll, name, cohort, email, created_at
		FROM participants WHERE roll = ? AND scope = ?
	`, roll, d.scopeKey(subject))
	var p Profile
	if err := row.Scan(&p.Roll, &p.Name, &p.Cohort, &p.Email, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
