package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"qrattend/internal/clock"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/registry"
	"qrattend/internal/session"
)

// Expected outcomes of Record. AlreadyRecorded is an idempotent no-op, not a
// failure; callers render it as an informational message.
var (
	ErrAlreadyRecorded = errors.New("attendance already recorded")
	ErrNotRegistered   = errors.New("participant not registered")
)

// DedupMode selects the de-duplication granularity for attendance writes.
type DedupMode string

const (
	DedupPerSession DedupMode = "session"
	DedupPerDay     DedupMode = "day"
)

// Service coordinates validation, registration lookup, and the atomic
// attendance insert.
type Service struct {
	repo     *Repository
	registry *registry.Directory
	strategy session.Strategy
	queue    queue.Queue
	dedup    DedupMode
	cap      int
	loc      *time.Location
	now      clock.Clock
}

// NewService wires the ledger. cap <= 0 disables admission control; loc is
// the timezone calendar-day keys are computed in.
func NewService(repo *Repository, dir *registry.Directory, strategy session.Strategy, q queue.Queue, dedup DedupMode, cap int, loc *time.Location, now clock.Clock) *Service {
	if dedup != DedupPerSession {
		dedup = DedupPerDay
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = clock.System
	}
	return &Service{repo: repo, registry: dir, strategy: strategy, queue: q, dedup: dedup, cap: cap, loc: loc, now: now}
}

// Validate checks a presented token and, when an admission cap is set, that
// the session still has room.
func (s *Service) Validate(ctx context.Context, token, subject string) (session.Validation, error) {
	v, err := s.strategy.Validate(ctx, token, subject)
	if err != nil {
		metrics.ValidationsRejected.WithLabelValues(reason(err)).Inc()
		return session.Validation{}, err
	}
	if s.cap > 0 {
		n, err := s.repo.CountBySession(ctx, v.SessionRef)
		if err != nil {
			return session.Validation{}, err
		}
		if n >= s.cap {
			metrics.ValidationsRejected.WithLabelValues("full").Inc()
			return session.Validation{}, session.ErrFull
		}
	}
	metrics.ValidationsAccepted.Inc()
	return v, nil
}

// Record validates the session, resolves the participant, and performs the
// exactly-once insert. profile may be nil for participants already in the
// directory; supplying it triggers the first-time registration branch. The
// profile commit is deliberately independent of the attendance insert: if the
// insert then fails the participant simply marks attendance again without
// re-registering.
func (s *Service) Record(ctx context.Context, roll, token, subject string, profile *registry.Profile) (Record, error) {
	if roll == "" || token == "" {
		return Record{}, errors.New("roll and token required")
	}

	v, err := s.strategy.Validate(ctx, token, subject)
	if err != nil {
		metrics.ValidationsRejected.WithLabelValues(reason(err)).Inc()
		return Record{}, err
	}

	var stored registry.Profile
	if profile != nil {
		stored, _, err = s.registry.Ensure(ctx, roll, v.Subject, profile)
		if err != nil {
			return Record{}, err
		}
	} else {
		p, err := s.registry.Get(ctx, roll, v.Subject)
		if err != nil {
			return Record{}, err
		}
		if p == nil {
			return Record{}, ErrNotRegistered
		}
		stored = *p
	}

	now := s.now()
	rec := Record{
		Roll:       roll,
		Subject:    v.Subject,
		DedupKey:   s.dedupKey(v, now),
		SessionRef: v.SessionRef,
		Name:       stored.Name,
		MarkedAt:   now,
	}
	inserted, err := s.repo.Insert(ctx, &rec, s.cap)
	if err != nil {
		return Record{}, err
	}
	if !inserted {
		dup, err := s.repo.Exists(ctx, rec.Roll, rec.Subject, rec.DedupKey)
		if err != nil {
			return Record{}, err
		}
		if dup {
			metrics.RecordsDuplicate.Inc()
			return Record{}, ErrAlreadyRecorded
		}
		metrics.ValidationsRejected.WithLabelValues("full").Inc()
		return Record{}, session.ErrFull
	}

	metrics.RecordsWritten.Inc()
	s.notify(rec)
	return rec, nil
}

// dedupKey is the third component of the uniqueness key: the admitting
// session in per-session mode, the local calendar date in per-day mode.
func (s *Service) dedupKey(v session.Validation, now time.Time) string {
	if s.dedup == DedupPerSession {
		return v.SessionRef
	}
	return now.In(s.loc).Format("2006-01-02")
}

// notify dispatches the confirmation mail job after the insert committed.
// Best effort: a queue failure is logged and never surfaces to the caller.
func (s *Service) notify(rec Record) {
	if s.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.queue.Publish(ctx, queue.Message{Type: "attendance", Body: []byte(rec.ID)}); err != nil {
		log.Printf("notification publish failed for %s: %v", rec.ID, err)
	}
}

// List exposes stored records for reporting.
func (s *Service) List(ctx context.Context, subject string, limit, offset int) ([]Record, error) {
	return s.repo.List(ctx, subject, limit, offset)
}

// Reset clears attendance and session rows for a subject scope.
func (s *Service) Reset(ctx context.Context, subject string) error {
	return s.repo.Reset(ctx, subject)
}

func reason(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "not_found"
	case errors.Is(err, session.ErrExpired):
		return "expired"
	case errors.Is(err, session.ErrDeactivated):
		return "deactivated"
	case errors.Is(err, session.ErrFull):
		return "full"
	default:
		return "error"
	}
}
