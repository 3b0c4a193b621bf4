package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"qrattend/internal/clock"
)

// Rotating derives tokens deterministically from (subject, time bucket,
// secret). Nothing is stored; validation recomputes the hash on every call,
// so it is a pure function of (token, subject, now) and scales horizontally
// with no shared state.
type Rotating struct {
	Secret  string
	Window  time.Duration
	BaseURL string
	Now     clock.Clock
}

// NewRotating builds the rotating strategy.
func NewRotating(secret string, window time.Duration, baseURL string, now clock.Clock) *Rotating {
	if window < time.Second {
		window = 60 * time.Second
	}
	if now == nil {
		now = clock.System
	}
	return &Rotating{Secret: secret, Window: window, BaseURL: baseURL, Now: now}
}

// TokenFor returns the hex token for a subject and bucket index.
func (r *Rotating) TokenFor(subject string, bucket int64) string {
	raw := fmt.Sprintf("%s-%d-%s", subject, bucket, r.Secret)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// PasskeyFor returns the short typeable code for a subject and bucket.
func (r *Rotating) PasskeyFor(subject string, bucket int64) string {
	raw := fmt.Sprintf("%s-%d-%s", subject, bucket, r.Secret)
	sum := sha256.Sum256([]byte(raw))
	return passkeyFromBytes(sum[:])
}

// Issue returns the handle for the current bucket. The validity argument is
// checked for sanity but the rotation window governs actual lifetime.
func (r *Rotating) Issue(_ context.Context, subject string, validity time.Duration) (Handle, error) {
	if subject == "" {
		return Handle{}, errors.New("subject required")
	}
	if validity <= 0 {
		return Handle{}, errors.New("validity must be positive")
	}
	now := r.Now()
	bucket := clock.Bucket(now, r.Window)
	token := r.TokenFor(subject, bucket)
	// A bucket-N token is also accepted throughout bucket N+1.
	expires := time.Unix((bucket+2)*int64(r.Window.Seconds()), 0).UTC()
	return Handle{
		Token:     token,
		Passkey:   r.PasskeyFor(subject, bucket),
		Subject:   subject,
		URL:       PayloadURL(r.BaseURL, token, subject),
		ExpiresAt: expires,
	}, nil
}

// Validate accepts a token (or pass-key) for the current or the immediately
// prior bucket. Everything else is reported as expired: the same reply for a
// wrong subject and a stale token, so callers cannot probe which subjects
// exist.
func (r *Rotating) Validate(_ context.Context, token, subject string) (Validation, error) {
	if token == "" || subject == "" {
		return Validation{}, ErrExpired
	}
	now := r.Now()
	bucket := clock.Bucket(now, r.Window)

	windowEnd := func(b int64) time.Time {
		return time.Unix((b+1)*int64(r.Window.Seconds()), 0).UTC()
	}

	current := r.TokenFor(subject, bucket)
	if token == current || token == r.PasskeyFor(subject, bucket) {
		// Current-bucket tokens stay valid through the next bucket.
		return Validation{
			Subject:    subject,
			Remaining:  windowEnd(bucket + 1).Sub(now),
			SessionRef: current,
		}, nil
	}
	previous := r.TokenFor(subject, bucket-1)
	if token == previous || token == r.PasskeyFor(subject, bucket-1) {
		return Validation{
			Subject:    subject,
			Remaining:  windowEnd(bucket).Sub(now),
			SessionRef: previous,
		}, nil
	}
	return Validation{}, ErrExpired
}

// passkeyFromBytes maps hash bytes onto six uppercase letters.
func passkeyFromBytes(b []byte) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	out := make([]byte, 6)
	for i := range out {
		out[i] = letters[int(b[i])%len(letters)]
	}
	return string(out)
}
