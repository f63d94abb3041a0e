package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
// One mutex covers the whole map; every operation, including Rotate's
// delete-then-insert, runs under it, which trivially gives the per-session
// linearizability the interface demands.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session registry
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Create inserts a new session row
func (s *MemoryStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return ErrDuplicateSessionID
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.LastActivityAt = session.CreatedAt
	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

// FindBySessionID returns the live session or ErrSessionNotFound
func (s *MemoryStore) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

// Rotate atomically replaces the old session
func (s *MemoryStore) Rotate(ctx context.Context, oldSessionID, newSessionID string, newExpiresAt time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.sessions[oldSessionID]
	if !ok || old.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	if _, taken := s.sessions[newSessionID]; taken {
		// the old session survives; the caller retries with a fresh ID
		return nil, ErrDuplicateSessionID
	}

	delete(s.sessions, oldSessionID)
	rotated := &Session{
		SessionID:      newSessionID,
		UserID:         old.UserID,
		ExpiresAt:      newExpiresAt,
		IP:             old.IP,
		UserAgent:      old.UserAgent,
		CreatedAt:      old.CreatedAt,
		LastActivityAt: time.Now(),
	}
	s.sessions[newSessionID] = rotated

	copied := *rotated
	return &copied, nil
}

// Revoke deletes one session; absent sessions are a no-op
func (s *MemoryStore) Revoke(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// RevokeAllForUser deletes every session owned by the user
func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			count++
		}
	}
	return count, nil
}

// ListForUser returns the user's live sessions, most recent activity first
func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var result []*Session
	for _, session := range s.sessions {
		if session.UserID == userID && !session.Expired(now) {
			copied := *session
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	return result, nil
}

// SweepExpired deletes rows past their expiry
func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			count++
		}
	}
	return count, nil
}

// Len reports the number of rows currently held (for tests and metrics)
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
