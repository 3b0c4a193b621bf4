package session

import (
	"context"
	"errors"
	"time"
)

// Rejection reasons surfaced to callers. These are expected outcomes, not
// system failures; the HTTP layer renders them as informational responses.
var (
	ErrNotFound    = errors.New("session not found")
	ErrExpired     = errors.New("session expired")
	ErrDeactivated = errors.New("session deactivated")
	ErrFull        = errors.New("session full")
)

// Session is a faculty-issued, time-bounded permission to record attendance
// for a subject. Only the store strategy persists these; the rotating
// strategy derives tokens and never writes a row.
type Session struct {
	Token     string    `json:"token"`
	Passkey   string    `json:"passkey"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// Validation is the successful outcome of a token check.
type Validation struct {
	Subject   string
	Remaining time.Duration
	// SessionRef identifies the admitting session for per-session
	// de-duplication and cap counting. It equals the token under both
	// strategies.
	SessionRef string
}

// Handle is returned on issuance: the bearer token plus the scannable URL
// payload and the human-typeable pass-key alternative.
type Handle struct {
	Token     string    `json:"token"`
	Passkey   string    `json:"passkey"`
	Subject   string    `json:"subject"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Strategy issues and validates tokens. The two implementations (stored
// sessions, rotating hashes) are interchangeable behind this interface so
// calling code is agnostic to which is active.
//
// Validate accepts either the full token or the pass-key in its place, and
// must treat now == expiresAt as still valid.
type Strategy interface {
	Issue(ctx context.Context, subject string, validity time.Duration) (Handle, error)
	Validate(ctx context.Context, token, subject string) (Validation, error)
}
