package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/store"
)

// Record is one attendance fact. Uniqueness is on (roll, subject, dedup_key);
// session_ref always carries the admitting session for cap accounting even in
// calendar-day mode.
type Record struct {
	ID         string    `json:"id"`
	Roll       string    `json:"roll"`
	Subject    string    `json:"subject"`
	DedupKey   string    `json:"-"`
	SessionRef string    `json:"session_ref"`
	Name       string    `json:"name"`
	MarkedAt   time.Time `json:"marked_at"`
}

// Repository persists attendance records.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes the record unless the key already exists or the admission cap
// for the session is reached. The unique constraint, not the caller's
// pre-check, is the correctness boundary: a conflicting concurrent insert
// simply affects zero rows. cap <= 0 disables admission control.
//
// Returns true when a row was written, with rec.ID filled in when it was
// generated here. On false the caller distinguishes duplicate from full via
// Exists.
func (r *Repository) Insert(ctx context.Context, rec *Record, cap int) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, roll, subject, dedup_key, session_ref, name, marked_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE ? <= 0 OR (SELECT COUNT(*) FROM attendance_records WHERE session_ref = ?) < ?
		ON CONFLICT (roll, subject, dedup_key) DO NOTHING
	`, rec.ID, rec.Roll, rec.Subject, rec.DedupKey, rec.SessionRef, rec.Name, rec.MarkedAt,
		cap, rec.SessionRef, cap)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports whether a record for the key is already stored.
func (r *Repository) Exists(ctx context.Context, roll, subject, dedupKey string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM attendance_records WHERE roll = ? AND subject = ? AND dedup_key = ?
	`, roll, subject, dedupKey)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CountBySession counts records admitted under one session.
func (r *Repository) CountBySession(ctx context.Context, sessionRef string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_records WHERE session_ref = ?
	`, sessionRef)
	var n int
	err := row.Scan(&n)
	return n, err
}

// List returns records, newest first, optionally filtered by subject.
func (r *Repository) List(ctx context.Context, subject string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, roll, subject, dedup_key, session_ref, name, marked_at FROM attendance_records`
	args := []any{}
	if subject != "" {
		query += ` WHERE subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY marked_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Roll, &rec.Subject, &rec.DedupKey, &rec.SessionRef, &rec.Name, &rec.MarkedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Get returns a single record by id, or nil.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, roll, subject, dedup_key, session_ref, name, marked_at
		FROM attendance_records WHERE id = ?
	`, id)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.Roll, &rec.Subject, &rec.DedupKey, &rec.SessionRef, &rec.Name, &rec.MarkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// RollCount is one row of the per-participant summary.
type RollCount struct {
	Roll    string  `json:"roll"`
	Count   int     `json:"classes_attended"`
	Percent float64 `json:"attendance_percent"`
}

// Summary aggregates the dashboard numbers for a subject: total present
// rows, distinct class days, and per-roll attendance percentages.
func (r *Repository) Summary(ctx context.Context, subject string) (total int, classDays int, perRoll []RollCount, err error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT dedup_key) FROM attendance_records WHERE subject = ?
	`, subject)
	if err = row.Scan(&total, &classDays); err != nil {
		return 0, 0, nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT roll, COUNT(*) FROM attendance_records
		WHERE subject = ? GROUP BY roll ORDER BY roll
	`, subject)
	if err != nil {
		return 0, 0, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rc RollCount
		if err := rows.Scan(&rc.Roll, &rc.Count); err != nil {
			return 0, 0, nil, err
		}
		if classDays > 0 {
			rc.Percent = float64(rc.Count) / float64(classDays) * 100
		}
		perRoll = append(perRoll, rc)
	}
	return total, classDays, perRoll, rows.Err()
}

// Reset deletes attendance and session records for a subject (all subjects
// when empty) in one transaction, so ordinary writes never observe a partial
// clear.
func (r *Repository) Reset(ctx context.Context, subject string) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	attDelete := `DELETE FROM attendance_records`
	sessDelete := `DELETE FROM sessions`
	args := []any{}
	if subject != "" {
		attDelete += ` WHERE subject = ?`
		sessDelete += ` WHERE subject = ?`
		args = append(args, subject)
	}
	if _, err := tx.ExecContext(ctx, r.db.Rebind(attDelete), args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.db.Rebind(sessDelete), args...); err != nil {
		return err
	}
	return tx.Commit()
}
