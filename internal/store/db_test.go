package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	sqlite := &DB{}
	assert.Equal(t, "SELECT ? FROM t WHERE a = ?", sqlite.Rebind("SELECT ? FROM t WHERE a = ?"))

	pg := &DB{postgres: true}
	assert.Equal(t, "SELECT $1 FROM t WHERE a = $2", pg.Rebind("SELECT ? FROM t WHERE a = ?"))
	assert.Equal(t, "DELETE FROM t", pg.Rebind("DELETE FROM t"))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("oracle", "", "")
	assert.Error(t, err)
}

func TestEnsureSchemaUniqueConstraint(t *testing.T) {
	db, err := Open("sqlite", "", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	// Idempotent.
	require.NoError(t, db.EnsureSchema(ctx))

	// The unique key on (roll, subject, dedup_key) absorbs the second insert.
	res, err := db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, roll, subject, dedup_key, session_ref, name, marked_at)
		SELECT 'a', 'R001', 'Optics', '2026-03-02', 'tok', 'Asha', '2026-03-02 09:15:00'
		WHERE 1 = 1
		ON CONFLICT (roll, subject, dedup_key) DO NOTHING
	`)
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.EqualValues(t, 1, n)

	res, err = db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, roll, subject, dedup_key, session_ref, name, marked_at)
		SELECT 'b', 'R001', 'Optics', '2026-03-02', 'tok', 'Asha', '2026-03-02 09:20:00'
		WHERE 1 = 1
		ON CONFLICT (roll, subject, dedup_key) DO NOTHING
	`)
	require.NoError(t, err)
	n, _ = res.RowsAffected()
	assert.EqualValues(t, 0, n)
}
