package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/queue"
	"qrattend/internal/registry"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

type failingQueue struct{ calls int }

func (q *failingQueue) Publish(context.Context, queue.Message) error {
	q.calls++
	return errors.New("queue down")
}

func (q *failingQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, errors.New("queue down")
}

type fixture struct {
	svc   *Service
	repo  *Repository
	dir   *registry.Directory
	rot   *session.Rotating
	clk   *fakeClock
	queue queue.Queue
}

func newFixture(t *testing.T, dedup DedupMode, cap int) *fixture {
	t.Helper()
	db, err := store.Open("sqlite", "", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))

	clk := &fakeClock{t: time.Unix(1700000000, 0).UTC()}
	rot := session.NewRotating("test-secret", 60*time.Second, "http://localhost:8081", clk.Now)
	dir := registry.New(db, registry.ScopePerSubject, clk.Now)
	repo := NewRepository(db)
	q := queue.NewInMemory(16)
	svc := NewService(repo, dir, rot, q, dedup, cap, time.UTC, clk.Now)
	return &fixture{svc: svc, repo: repo, dir: dir, rot: rot, clk: clk, queue: q}
}

func (f *fixture) register(t *testing.T, roll, subject string) {
	t.Helper()
	_, _, err := f.dir.Ensure(context.Background(), roll, subject, &registry.Profile{
		Roll: roll, Name: "Student " + roll, Email: roll + "@example.edu",
	})
	require.NoError(t, err)
}

func (f *fixture) token(subject string) string {
	h, _ := f.rot.Issue(context.Background(), subject, 60*time.Second)
	return h.Token
}

func TestRecordIdempotent(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	f.register(t, "R001", "Optics")
	token := f.token("Optics")

	rec, err := f.svc.Record(context.Background(), "R001", token, "Optics", nil)
	require.NoError(t, err)
	assert.Equal(t, "Student R001", rec.Name)

	_, err = f.svc.Record(context.Background(), "R001", token, "Optics", nil)
	assert.ErrorIs(t, err, ErrAlreadyRecorded)

	records, err := f.repo.List(context.Background(), "Optics", 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordIdempotentConcurrent(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	f.register(t, "R001", "Optics")
	token := f.token("Optics")

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded, duplicate := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Record(context.Background(), "R001", token, "Optics", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				recorded++
			case errors.Is(err, ErrAlreadyRecorded):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, recorded)
	assert.Equal(t, attempts-1, duplicate)

	records, err := f.repo.List(context.Background(), "Optics", 100, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordPerDayDedupAcrossSessions(t *testing.T) {
	f := newFixture(t, DedupPerDay, 0)
	f.register(t, "R001", "Optics")

	first := f.token("Optics")
	_, err := f.svc.Record(context.Background(), "R001", first, "Optics", nil)
	require.NoError(t, err)

	// A later session the same day yields a different token but the same
	// calendar-date key.
	f.clk.t = f.clk.t.Add(10 * time.Minute)
	second := f.token("Optics")
	require.NotEqual(t, first, second)

	_, err = f.svc.Record(context.Background(), "R001", second, "Optics", nil)
	assert.ErrorIs(t, err, ErrAlreadyRecorded)

	// The next day is a fresh key.
	f.clk.t = f.clk.t.Add(24 * time.Hour)
	_, err = f.svc.Record(context.Background(), "R001", f.token("Optics"), "Optics", nil)
	assert.NoError(t, err)
}

func TestRecordAdmissionCap(t *testing.T) {
	f := newFixture(t, DedupPerSession, 2)
	for _, roll := range []string{"R001", "R002", "R003"} {
		f.register(t, roll, "Optics")
	}
	token := f.token("Optics")

	_, err := f.svc.Record(context.Background(), "R001", token, "Optics", nil)
	require.NoError(t, err)
	_, err = f.svc.Record(context.Background(), "R002", token, "Optics", nil)
	require.NoError(t, err)

	_, err = f.svc.Record(context.Background(), "R003", token, "Optics", nil)
	assert.ErrorIs(t, err, session.ErrFull)

	// The validator rejects new entrants too once the cap is reached.
	_, err = f.svc.Validate(context.Background(), token, "Optics")
	assert.ErrorIs(t, err, session.ErrFull)

	n, err := f.repo.CountBySession(context.Background(), tokenRef(f, "Optics"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A duplicate from an admitted participant is still reported as such,
	// not as full.
	_, err = f.svc.Record(context.Background(), "R001", token, "Optics", nil)
	assert.ErrorIs(t, err, ErrAlreadyRecorded)
}

func tokenRef(f *fixture, subject string) string {
	v, _ := f.rot.Validate(context.Background(), f.token(subject), subject)
	return v.SessionRef
}

func TestRecordRejectsExpiredToken(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	f.register(t, "R001", "Optics")
	token := f.token("Optics")

	f.clk.t = f.clk.t.Add(3 * time.Minute)
	_, err := f.svc.Record(context.Background(), "R001", token, "Optics", nil)
	assert.ErrorIs(t, err, session.ErrExpired)

	records, err := f.repo.List(context.Background(), "Optics", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordRequiresRegistration(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	token := f.token("Optics")

	_, err := f.svc.Record(context.Background(), "R404", token, "Optics", nil)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRecordFirstTimeProfileInline(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	token := f.token("Optics")

	rec, err := f.svc.Record(context.Background(), "R001", token, "Optics", &registry.Profile{
		Roll: "R001", Name: "Asha",
	})
	require.NoError(t, err)
	assert.Equal(t, "Asha", rec.Name)

	// Profile stayed committed; marking again is a duplicate, not a
	// registration failure.
	_, err = f.svc.Record(context.Background(), "R001", token, "Optics", nil)
	assert.ErrorIs(t, err, ErrAlreadyRecorded)
}

func TestNotificationCarriesStoredRecordID(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	f.register(t, "R001", "Optics")

	rec, err := f.svc.Record(context.Background(), "R001", f.token("Optics"), "Optics", nil)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	// The queued body is the committed record id, so the worker's
	// fetch-by-id lookup resolves.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := f.queue.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, "attendance", msg.Type)
	assert.Equal(t, rec.ID, string(msg.Body))

	stored, err := f.repo.Get(context.Background(), string(msg.Body))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "R001", stored.Roll)
}

func TestNotificationFailureNeverFailsWrite(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	fq := &failingQueue{}
	f.svc.queue = fq
	f.register(t, "R001", "Optics")

	_, err := f.svc.Record(context.Background(), "R001", f.token("Optics"), "Optics", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fq.calls)

	records, err := f.repo.List(context.Background(), "Optics", 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestIssueAndMarkScenario(t *testing.T) {
	db, err := store.Open("sqlite", "", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))

	clk := &fakeClock{t: time.Unix(1700000000, 0).UTC()}
	strategy := session.NewStoreBacked(session.NewRepository(db), time.Hour, "http://localhost:8081", clk.Now)
	dir := registry.New(db, registry.ScopePerSubject, clk.Now)
	svc := NewService(NewRepository(db), dir, strategy, queue.NewInMemory(4), DedupPerSession, 0, time.UTC, clk.Now)

	handle, err := strategy.Issue(context.Background(), "Optics", 60*time.Second)
	require.NoError(t, err)

	v, err := svc.Validate(context.Background(), handle.Token, "")
	require.NoError(t, err)
	assert.InDelta(t, 60, v.Remaining.Seconds(), 1)

	_, err = svc.Record(context.Background(), "R001", handle.Token, "", &registry.Profile{Roll: "R001", Name: "Asha"})
	require.NoError(t, err)

	clk.t = clk.t.Add(61 * time.Second)
	_, err = svc.Validate(context.Background(), handle.Token, "")
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestResetClearsScope(t *testing.T) {
	f := newFixture(t, DedupPerSession, 0)
	f.register(t, "R001", "Optics")
	f.register(t, "R001", "Mechanics")

	_, err := f.svc.Record(context.Background(), "R001", f.token("Optics"), "Optics", nil)
	require.NoError(t, err)
	_, err = f.svc.Record(context.Background(), "R001", f.token("Mechanics"), "Mechanics", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(context.Background(), "Optics"))

	optics, err := f.repo.List(context.Background(), "Optics", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, optics)

	mechanics, err := f.repo.List(context.Background(), "Mechanics", 10, 0)
	require.NoError(t, err)
	assert.Len(t, mechanics, 1)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, DedupPerDay, 0)
	f.register(t, "R001", "Optics")
	f.register(t, "R002", "Optics")

	_, err := f.svc.Record(context.Background(), "R001", f.token("Optics"), "Optics", nil)
	require.NoError(t, err)
	_, err = f.svc.Record(context.Background(), "R002", f.token("Optics"), "Optics", nil)
	require.NoError(t, err)

	f.clk.t = f.clk.t.Add(24 * time.Hour)
	_, err = f.svc.Record(context.Background(), "R001", f.token("Optics"), "Optics", nil)
	require.NoError(t, err)

	total, days, perRoll, err := f.repo.Summary(context.Background(), "Optics")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, days)
	require.Len(t, perRoll, 2)
	assert.Equal(t, "R001", perRoll[0].Roll)
	assert.Equal(t, 2, perRoll[0].Count)
	assert.InDelta(t, 100, perRoll[0].Percent, 0.01)
	assert.InDelta(t, 50, perRoll[1].Percent, 0.01)
}
