package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store over database/sql with the lib/pq driver.
//
// Expected schema (owned by the external migration layer):
//
//	CREATE TABLE refresh_sessions (
//	    session_id       TEXT PRIMARY KEY,
//	    user_id          UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//	    expires_at       TIMESTAMPTZ NOT NULL,
//	    ip               TEXT NOT NULL DEFAULT '',
//	    user_agent       TEXT NOT NULL DEFAULT '',
//	    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX refresh_sessions_user_id_idx ON refresh_sessions (user_id);
//	CREATE INDEX refresh_sessions_expires_at_idx ON refresh_sessions (expires_at);
//
// The ON DELETE CASCADE keeps the "deleting a user deletes their sessions"
// invariant in the storage engine rather than in application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed session registry
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

// Create inserts a new session row
func (s *PostgresStore) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO refresh_sessions (session_id, user_id, expires_at, ip, user_agent, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.UserID, session.ExpiresAt,
		session.IP, session.UserAgent, session.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateSessionID
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.LastActivityAt = session.CreatedAt
	return nil
}

// FindBySessionID returns the live session or ErrSessionNotFound
func (s *PostgresStore) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT session_id, user_id, expires_at, ip, user_agent, created_at, last_activity_at
		FROM refresh_sessions
		WHERE session_id = $1 AND expires_at > now()
	`
	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID, &session.UserID, &session.ExpiresAt,
		&session.IP, &session.UserAgent, &session.CreatedAt, &session.LastActivityAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return session, nil
}

// Rotate replaces the old session in a single statement. The conditional
// DELETE ... RETURNING feeding the INSERT makes the rotation atomic and
// linearizable per session ID: the row lock taken by the delete guarantees
// that of two concurrent rotations only one sees the old row.
func (s *PostgresStore) Rotate(ctx context.Context, oldSessionID, newSessionID string, newExpiresAt time.Time) (*Session, error) {
	query := `
		WITH old AS (
			DELETE FROM refresh_sessions
			WHERE session_id = $1 AND expires_at > now()
			RETURNING user_id, ip, user_agent, created_at
		)
		INSERT INTO refresh_sessions (session_id, user_id, expires_at, ip, user_agent, created_at, last_activity_at)
		SELECT $2, user_id, $3, ip, user_agent, created_at, now()
		FROM old
		RETURNING session_id, user_id, expires_at, ip, user_agent, created_at, last_activity_at
	`
	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, oldSessionID, newSessionID, newExpiresAt).Scan(
		&session.SessionID, &session.UserID, &session.ExpiresAt,
		&session.IP, &session.UserAgent, &session.CreatedAt, &session.LastActivityAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			// the new ID hit an existing row; the delete rolled back with
			// the statement, so the old session survives for a retry
			return nil, ErrDuplicateSessionID
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	return session, nil
}

// Revoke deletes one session; absent sessions are a no-op
func (s *PostgresStore) Revoke(ctx context.Context, sessionID string) error {
	query := `DELETE FROM refresh_sessions WHERE session_id = $1`
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser deletes every session owned by the user
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE user_id = $1`
	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count revoked sessions: %w", err)
	}
	return count, nil
}

// ListForUser returns the user's live sessions, most recent activity first
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	query := `
		SELECT session_id, user_id, expires_at, ip, user_agent, created_at, last_activity_at
		FROM refresh_sessions
		WHERE user_id = $1 AND expires_at > now()
		ORDER BY last_activity_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(
			&session.SessionID, &session.UserID, &session.ExpiresAt,
			&session.IP, &session.UserAgent, &session.CreatedAt, &session.LastActivityAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		result = append(result, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return result, nil
}

// SweepExpired deletes rows past their expiry
func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE expires_at <= $1`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept sessions: %w", err)
	}
	return count, nil
}

// CountActive reports the number of unexpired rows, for the active
// sessions gauge.
func (s *PostgresStore) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	query := `SELECT count(*) FROM refresh_sessions WHERE expires_at > $1`
	if err := s.db.QueryRowContext(ctx, query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}
