// Package sessions is the refresh-session registry: one row per issued
// refresh token, i.e. per logged-in device. The registry is what turns a
// stateless signed refresh token into a revocable credential; a token whose
// session row is gone is dead regardless of its signature or expiry.
package sessions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned for any miss: a session that never
	// existed, was rotated away, revoked or swept. Deliberately one error
	// so a revoked token is indistinguishable from a garbage one.
	ErrSessionNotFound = errors.New("invalid session")

	// ErrDuplicateSessionID is returned when Create or Rotate would write a
	// session ID that already exists. With 256-bit random IDs this is
	// astronomically unlikely; callers regenerate and retry. Rotate leaves
	// the old session intact when it fails this way.
	ErrDuplicateSessionID = errors.New("session id already exists")
)

// Metadata captures the client that opened a session
type Metadata struct {
	IP        string
	UserAgent string
}

// Session is one registry row
type Session struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Expired reports whether the session is past its expiry at the given time
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store is the durable session registry.
//
// Rotate must be linearizable per session ID: of two concurrent rotations of
// the same session, at most one may succeed; the loser observes
// ErrSessionNotFound. Implementations achieve this by making the
// delete-then-insert a single atomic operation conditioned on the old
// session ID still being present.
type Store interface {
	// Create inserts a new session row. Returns ErrDuplicateSessionID on a
	// session ID collision.
	Create(ctx context.Context, session *Session) error

	// FindBySessionID returns the live session for the given ID, or
	// ErrSessionNotFound. Expired rows are treated as absent.
	FindBySessionID(ctx context.Context, sessionID string) (*Session, error)

	// Rotate atomically replaces the old session with a new row carrying
	// newSessionID and newExpiresAt, preserving the owner and client
	// metadata. Returns ErrSessionNotFound when the old session is gone
	// (already rotated, revoked or expired) and ErrDuplicateSessionID when
	// newSessionID is already taken; the old session survives that failure.
	Rotate(ctx context.Context, oldSessionID, newSessionID string, newExpiresAt time.Time) (*Session, error)

	// Revoke deletes one session. Deleting an absent session is not an
	// error; revocation is idempotent.
	Revoke(ctx context.Context, sessionID string) error

	// RevokeAllForUser deletes every session owned by the user and returns
	// how many were removed. Used on "log out all devices" and on password
	// change.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// ListForUser returns the user's live sessions for multi-device
	// visibility, most recent activity first.
	ListForUser(ctx context.Context, userID string) ([]*Session, error)

	// SweepExpired deletes rows past their expiry. Idempotent and safe to
	// run concurrently with normal traffic; it only removes rows that are
	// already semantically dead.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
