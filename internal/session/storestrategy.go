package session

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/clock"
)

// StoreBacked issues explicit session rows and validates against them.
type StoreBacked struct {
	repo        *Repository
	maxValidity time.Duration
	baseURL     string
	now         clock.Clock
}

// NewStoreBacked builds the stored-session strategy.
func NewStoreBacked(repo *Repository, maxValidity time.Duration, baseURL string, now clock.Clock) *StoreBacked {
	if maxValidity <= 0 {
		maxValidity = time.Hour
	}
	if now == nil {
		now = clock.System
	}
	return &StoreBacked{repo: repo, maxValidity: maxValidity, baseURL: baseURL, now: now}
}

// Issue creates and persists a session with a random opaque token.
func (s *StoreBacked) Issue(ctx context.Context, subject string, validity time.Duration) (Handle, error) {
	if subject == "" {
		return Handle{}, errors.New("subject required")
	}
	if validity <= 0 {
		return Handle{}, errors.New("validity must be positive")
	}
	if validity > s.maxValidity {
		validity = s.maxValidity
	}
	now := s.now()
	sess := Session{
		Token:     uuid.NewString(),
		Passkey:   randomPasskey(),
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(validity),
		Active:    true,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return Handle{}, err
	}
	return Handle{
		Token:     sess.Token,
		Passkey:   sess.Passkey,
		Subject:   sess.Subject,
		URL:       PayloadURL(s.baseURL, sess.Token, sess.Subject),
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Validate looks the token up and checks the active flag and expiry.
// now == expiresAt is still usable (inclusive upper bound).
func (s *StoreBacked) Validate(ctx context.Context, token, subject string) (Validation, error) {
	if token == "" {
		return Validation{}, ErrNotFound
	}
	sess, err := s.repo.Get(ctx, token, subject)
	if err != nil {
		return Validation{}, err
	}
	if sess == nil {
		return Validation{}, ErrNotFound
	}
	if !sess.Active {
		return Validation{}, ErrDeactivated
	}
	now := s.now()
	if now.After(sess.ExpiresAt) {
		return Validation{}, ErrExpired
	}
	return Validation{
		Subject:    sess.Subject,
		Remaining:  sess.ExpiresAt.Sub(now),
		SessionRef: sess.Token,
	}, nil
}

// Close deactivates an issued session early.
func (s *StoreBacked) Close(ctx context.Context, token string) error {
	return s.repo.Deactivate(ctx, token)
}

// randomPasskey returns six random uppercase letters.
func randomPasskey() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return passkeyFromBytes(b)
}
