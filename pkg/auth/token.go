package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer identifies tokens minted by this service
	Issuer = "bzr-portal"
	// AudienceAccess tags access tokens; AudienceRefresh tags refresh
	// tokens. Distinct audiences are a hard verification precondition so
	// the two token classes can never be confused even by a verification
	// path that forgot every other check.
	AudienceAccess  = "bzr-portal:access"
	AudienceRefresh = "bzr-portal:refresh"

	// DefaultAccessTTL is the fixed access token lifetime
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the default refresh token lifetime
	DefaultRefreshTTL = 30 * 24 * time.Hour

	// SessionIDLength is the number of random bytes in a session
	// identifier (32 bytes = 256 bits, hex-encoded to 64 characters)
	SessionIDLength = 32
)

// TokenConfig holds the token service configuration
type TokenConfig struct {
	// Secret is the HS256 signing secret. Required; an empty secret is a
	// startup-time fatal (NewTokenService returns ErrMissingSecret).
	Secret []byte
	// AccessTTL defaults to DefaultAccessTTL when zero
	AccessTTL time.Duration
	// RefreshTTL defaults to DefaultRefreshTTL when zero
	RefreshTTL time.Duration
}

// TokenService mints and verifies the two token classes. Access tokens are
// stateless; refresh tokens additionally require a live row in the session
// registry (pkg/sessions), which is what makes server-side revocation work.
type TokenService struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenService creates a token service. Fails when the signing secret is
// missing; callers treat that as fatal at startup, not as a request error.
func NewTokenService(config TokenConfig) (*TokenService, error) {
	if len(config.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if config.AccessTTL == 0 {
		config.AccessTTL = DefaultAccessTTL
	}
	if config.RefreshTTL == 0 {
		config.RefreshTTL = DefaultRefreshTTL
	}
	return &TokenService{
		config: config,
		now:    time.Now,
	}, nil
}

// accessJWT is the wire form of an access token payload
type accessJWT struct {
	Email    string  `json:"email"`
	Role     Role    `json:"role"`
	TenantID *string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// refreshJWT is the wire form of a refresh token payload. It carries only
// the user and the session registry key; everything else is server state.
type refreshJWT struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// RefreshCredential is the result of issuing a refresh token
type RefreshCredential struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// IssueAccessToken mints a signed access token for the given identity
func (s *TokenService) IssueAccessToken(user *User) (string, error) {
	now := s.now()
	claims := accessJWT{
		Email:    user.Email,
		Role:     user.Role,
		TenantID: user.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{AudienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, issuer, audience and expiry. Every
// failure collapses to ErrInvalidToken.
func (s *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &accessJWT{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(AudienceAccess),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &AccessClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		TenantID:  claims.TenantID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// IssueRefreshToken mints a signed refresh token with a fresh high-entropy
// session identifier. The caller must persist the session in the registry;
// the signature alone never proves a refresh token is still live.
func (s *TokenService) IssueRefreshToken(userID string) (*RefreshCredential, error) {
	sessionID, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.config.RefreshTTL)
	claims := refreshJWT{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{AudienceRefresh},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &RefreshCredential{
		Token:     signed,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyRefreshToken checks signature, issuer, the refresh audience and
// expiry, and returns the embedded user and session identifiers. The session
// registry lookup is the caller's responsibility. Every failure collapses to
// ErrInvalidToken.
func (s *TokenService) VerifyRefreshToken(tokenString string) (userID, sessionID string, err error) {
	claims := &refreshJWT{}
	token, parseErr := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(AudienceRefresh),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if parseErr != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.SessionID, nil
}

// RefreshTTL exposes the configured refresh lifetime (for session rows)
func (s *TokenService) RefreshTTL() time.Duration {
	return s.config.RefreshTTL
}

// AccessTTL exposes the configured access lifetime (for cookie max-age)
func (s *TokenService) AccessTTL() time.Duration {
	return s.config.AccessTTL
}

func (s *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	return s.config.Secret, nil
}

// NewSessionID generates a 256-bit random session identifier, hex-encoded.
// Generated independently of any signature so registry keys stay opaque.
func NewSessionID() (string, error) {
	buf := make([]byte, SessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
