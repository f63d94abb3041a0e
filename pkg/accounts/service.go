package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bzrportal/bzrportal/pkg/audit"
	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/sessions"
)

// DefaultRegistrationRole is the role a self-registered trial account
// starts with. The safety officer runs the workspace they just created;
// additional users are invited with narrower roles.
const DefaultRegistrationRole = auth.RoleBZROfficer

// sessionIDRetries bounds how many fresh session identifiers are tried
// when the registry reports an ID collision. A 256-bit identifier should
// never collide; the bound keeps a broken random source from looping.
const sessionIDRetries = 3

// Service implements the authentication operations over a credential
// store, the session registry and the token service.
type Service struct {
	users    Store
	sessions sessions.Store
	tokens   *auth.TokenService
	audit    audit.Logger
	log      *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewService(users Store, sessionStore sessions.Store, tokens *auth.TokenService, auditLog audit.Logger, log *observability.Logger) *Service {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Service{
		users:    users,
		sessions: sessionStore,
		tokens:   tokens,
		audit:    auditLog,
		log:      log,
		now:      time.Now,
	}
}

// WithMetrics attaches auth outcome metrics. Optional; the service runs
// without them in tests.
func (s *Service) WithMetrics(m *observability.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countRotation(outcome string) {
	if s.metrics != nil {
		s.metrics.RefreshRotations.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countRevoked(reason string, n int64) {
	if s.metrics != nil && n > 0 {
		s.metrics.SessionsRevoked.WithLabelValues(reason).Add(float64(n))
	}
}

// RegisterInput carries a registration request. CompanyName is optional
// profile data recorded with the new workspace.
type RegisterInput struct {
	Email       string
	Password    string
	CompanyName string
}

// AuthResult is what login, registration and refresh hand back.
type AuthResult struct {
	User             *auth.User
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Register creates a fresh trial workspace: a new tenant identifier and
// its first credential. Returns ErrEmailTaken on a duplicate email, and
// ErrInvalidEmail / ErrPasswordTooShort on unusable input.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta sessions.Metadata) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < auth.MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tenantID := uuid.NewString()
	user := &auth.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CompanyName:  strings.TrimSpace(in.CompanyName),
		Role:         DefaultRegistrationRole,
		TenantID:     &tenantID,
		Tier:         auth.TierTrial,
		CreatedAt:    s.now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	result, err := s.issueTokens(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, &audit.Event{
		Type:     audit.EventRegister,
		Status:   audit.StatusSuccess,
		UserID:   user.ID,
		Email:    user.Email,
		TenantID: user.TenantID,
		IP:       meta.IP,
		Message:  "account registered",
	})
	return result, nil
}

// Login verifies the credentials and opens a new session. Every failure
// is ErrInvalidCredentials; callers cannot probe which emails exist.
func (s *Service) Login(ctx context.Context, email, password string, meta sessions.Metadata) (*AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.countLogin("invalid_credentials")
			s.recordAudit(ctx, &audit.Event{
				Type:   audit.EventLoginFailed,
				Status: audit.StatusFailure,
				Email:  email,
				IP:     meta.IP,
			})
			return nil, ErrInvalidCredentials
		}
		s.countLogin("error")
		return nil, err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		s.countLogin("invalid_credentials")
		s.recordAudit(ctx, &audit.Event{
			Type:     audit.EventLoginFailed,
			Status:   audit.StatusFailure,
			UserID:   user.ID,
			Email:    user.Email,
			TenantID: user.TenantID,
			IP:       meta.IP,
		})
		return nil, ErrInvalidCredentials
	}

	if err := s.users.RecordLogin(ctx, user.ID, s.now()); err != nil {
		// non-fatal: the stamp is informational
		s.log.WithError(err).WithField("user_id", user.ID).Warn("failed to record login time")
	}

	result, err := s.issueTokens(ctx, user, meta)
	if err != nil {
		s.countLogin("error")
		return nil, err
	}

	s.countLogin("success")
	s.recordAudit(ctx, &audit.Event{
		Type:     audit.EventLogin,
		Status:   audit.StatusSuccess,
		UserID:   user.ID,
		Email:    user.Email,
		TenantID: user.TenantID,
		IP:       meta.IP,
	})
	return result, nil
}

// Refresh exchanges a valid refresh token for a new access token and a
// rotated refresh token. The presented token dies in the exchange; a
// replay of it afterwards fails. Of two concurrent refreshes with the
// same token exactly one wins.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta sessions.Metadata) (*AuthResult, error) {
	userID, sessionID, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.countRotation("invalid")
		return nil, auth.ErrInvalidToken
	}

	var (
		cred    *auth.RefreshCredential
		session *sessions.Session
	)
	for attempt := 0; attempt < sessionIDRetries; attempt++ {
		cred, err = s.tokens.IssueRefreshToken(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		session, err = s.sessions.Rotate(ctx, sessionID, cred.SessionID, cred.ExpiresAt)
		if err == nil || !errors.Is(err, sessions.ErrDuplicateSessionID) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			s.countRotation("stale")
			s.recordAudit(ctx, &audit.Event{
				Type:    audit.EventRefreshFailed,
				Status:  audit.StatusDenied,
				UserID:  userID,
				IP:      meta.IP,
				Message: "refresh with dead session",
			})
			return nil, auth.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	// the registry row must belong to the token's subject
	if session.UserID != userID {
		_ = s.sessions.Revoke(ctx, cred.SessionID)
		return nil, auth.ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		_ = s.sessions.Revoke(ctx, cred.SessionID)
		if errors.Is(err, ErrUserNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}

	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.countRotation("rotated")
	s.recordAudit(ctx, &audit.Event{
		Type:     audit.EventRefresh,
		Status:   audit.StatusSuccess,
		UserID:   user.ID,
		TenantID: user.TenantID,
		IP:       meta.IP,
	})
	return &AuthResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshToken:     cred.Token,
		RefreshExpiresAt: cred.ExpiresAt,
	}, nil
}

// Logout revokes the session behind the refresh token. It never fails
// from the caller's perspective: an invalid, expired or absent token
// leaves nothing to revoke and that is success.
func (s *Service) Logout(ctx context.Context, refreshToken string, meta sessions.Metadata) {
	userID, sessionID, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return
	}
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		s.log.WithError(err).Warn("failed to revoke session on logout")
		return
	}
	s.countRevoked("logout", 1)
	s.recordAudit(ctx, &audit.Event{
		Type:   audit.EventLogout,
		Status: audit.StatusSuccess,
		UserID: userID,
		IP:     meta.IP,
	})
}

// LogoutAll revokes every session the user has and returns how many
// devices were logged out.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	count, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.countRevoked("logout_all", count)
	s.recordAudit(ctx, &audit.Event{
		Type:    audit.EventLogoutAll,
		Status:  audit.StatusSuccess,
		UserID:  userID,
		Message: fmt.Sprintf("%d sessions revoked", count),
	})
	return count, nil
}

// ChangePassword verifies the current password, stores the new hash and
// unconditionally revokes every session, including the caller's own.
// Every device must log in again with the new password.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}

	if !auth.CheckPassword(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	if len(newPassword) < auth.MinPasswordLength {
		return ErrPasswordTooShort
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		// the password did change; surface the revocation failure so the
		// caller can retry LogoutAll rather than assume devices are out
		return fmt.Errorf("password changed but session revocation failed: %w", err)
	}
	s.countRevoked("password_change", revoked)

	s.recordAudit(ctx, &audit.Event{
		Type:     audit.EventPasswordChange,
		Status:   audit.StatusSuccess,
		UserID:   user.ID,
		Email:    user.Email,
		TenantID: user.TenantID,
	})
	return nil
}

// Sessions lists the user's live sessions, most recent activity first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*sessions.Session, error) {
	return s.sessions.ListForUser(ctx, userID)
}

func (s *Service) issueTokens(ctx context.Context, user *auth.User, meta sessions.Metadata) (*AuthResult, error) {
	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	var cred *auth.RefreshCredential
	for attempt := 0; attempt < sessionIDRetries; attempt++ {
		cred, err = s.tokens.IssueRefreshToken(user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		now := s.now()
		err = s.sessions.Create(ctx, &sessions.Session{
			SessionID:      cred.SessionID,
			UserID:         user.ID,
			ExpiresAt:      cred.ExpiresAt,
			IP:             meta.IP,
			UserAgent:      meta.UserAgent,
			CreatedAt:      now,
			LastActivityAt: now,
		})
		if err == nil || !errors.Is(err, sessions.ErrDuplicateSessionID) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &AuthResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshToken:     cred.Token,
		RefreshExpiresAt: cred.ExpiresAt,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, event *audit.Event) {
	event.Timestamp = s.now()
	if err := s.audit.Record(ctx, event); err != nil {
		s.log.WithError(err).WithField("event_type", string(event.Type)).Warn("failed to record audit event")
	}
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && len(email) <= 255
}
