package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open("sqlite", "", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func fixedClock() time.Time { return time.Unix(1700000000, 0).UTC() }

func TestEnsureCreatesThenReturnsOriginal(t *testing.T) {
	dir := New(testDB(t), ScopePerSubject, fixedClock)

	profile, created, err := dir.Ensure(context.Background(), "R001", "Mechanics", &Profile{
		Roll: "R001", Name: "Asha", Email: "asha@example.edu",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Asha", profile.Name)

	// A second call with different fields is ignored; the original wins.
	profile, created, err = dir.Ensure(context.Background(), "R001", "Mechanics", &Profile{
		Roll: "R001", Name: "Someone Else", Email: "other@example.edu",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Asha", profile.Name)
	assert.Equal(t, "asha@example.edu", profile.Email)
}

func TestEnsurePerSubjectScope(t *testing.T) {
	dir := New(testDB(t), ScopePerSubject, fixedClock)

	_, created, err := dir.Ensure(context.Background(), "R001", "Mechanics", &Profile{Roll: "R001", Name: "Asha"})
	require.NoError(t, err)
	assert.True(t, created)

	// Same roll, different subject: independent registration.
	_, created, err = dir.Ensure(context.Background(), "R001", "Optics", &Profile{Roll: "R001", Name: "Asha"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestEnsureGlobalScope(t *testing.T) {
	dir := New(testDB(t), ScopeGlobal, fixedClock)

	_, created, err := dir.Ensure(context.Background(), "R001", "Mechanics", &Profile{Roll: "R001", Name: "Asha"})
	require.NoError(t, err)
	assert.True(t, created)

	// Under global identity the second subject reuses the existing profile.
	profile, created, err := dir.Ensure(context.Background(), "R001", "Optics", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Asha", profile.Name)
}

func TestEnsureRequiresProfileForFirstTime(t *testing.T) {
	dir := New(testDB(t), ScopePerSubject, fixedClock)

	_, _, err := dir.Ensure(context.Background(), "R404", "Mechanics", nil)
	assert.Error(t, err)

	_, _, err = dir.Ensure(context.Background(), "R001", "Mechanics", &Profile{Roll: "R001"})
	assert.Error(t, err, "name is required")

	_, _, err = dir.Ensure(context.Background(), "", "Mechanics", &Profile{Name: "Asha"})
	assert.Error(t, err)
}

func TestGetMissing(t *testing.T) {
	dir := New(testDB(t), ScopePerSubject, fixedClock)
	p, err := dir.Get(context.Background(), "R404", "Mechanics")
	require.NoError(t, err)
	assert.Nil(t, p)
}
