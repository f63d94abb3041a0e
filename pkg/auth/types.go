package auth

import (
	"errors"
	"time"
)

// Role is the closed set of account roles. The ordering between roles lives
// in the rolePrivileges table below; never compare roles with < or string
// tricks.
type Role string

const (
	// RoleViewer has read-only access inside its tenant
	RoleViewer Role = "viewer"
	// RoleHRManager manages employees and positions inside its tenant
	RoleHRManager Role = "hr_manager"
	// RoleBZROfficer is the workplace-safety officer; owns risk assessments
	// and compliance documents inside its tenant
	RoleBZROfficer Role = "bzr_officer"
	// RoleAdmin is the platform operator role; satisfies every role check
	RoleAdmin Role = "admin"
)

// rolePrivileges is the explicit partial order over roles: for each role, the
// set of required roles it satisfies. viewer < hr_manager and
// viewer < bzr_officer; hr_manager and bzr_officer are incomparable siblings;
// admin satisfies everything. Kept as a table so the ordering is data, not
// scattered comparisons.
var rolePrivileges = map[Role]map[Role]bool{
	RoleViewer: {
		RoleViewer: true,
	},
	RoleHRManager: {
		RoleViewer:    true,
		RoleHRManager: true,
	},
	RoleBZROfficer: {
		RoleViewer:     true,
		RoleBZROfficer: true,
	},
	RoleAdmin: {
		RoleViewer:     true,
		RoleHRManager:  true,
		RoleBZROfficer: true,
		RoleAdmin:      true,
	},
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	_, ok := rolePrivileges[r]
	return ok
}

// Satisfies reports whether r grants the privileges of required
func (r Role) Satisfies(required Role) bool {
	return rolePrivileges[r][required]
}

// AccountTier classifies an account for quota purposes
type AccountTier string

const (
	TierTrial    AccountTier = "trial"
	TierVerified AccountTier = "verified"
	TierPaid     AccountTier = "paid"
)

// User is a credential record. TenantID is nil only for the platform
// operator account (role admin); every customer-scoped account carries the
// tenant it belongs to.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // opaque bcrypt hash, never exposed
	// CompanyName is optional profile data captured at registration
	CompanyName   string      `json:"company_name,omitempty"`
	Role          Role        `json:"role"`
	TenantID      *string     `json:"tenant_id,omitempty"`
	EmailVerified bool        `json:"email_verified"`
	Tier          AccountTier `json:"tier"`
	CreatedAt     time.Time   `json:"created_at"`
	LastLoginAt   *time.Time  `json:"last_login_at,omitempty"`
}

// AccessClaims is the decoded payload of a verified access token. It is
// constructed at verification time, attached to the request context, and
// discarded at end of request; it is never persisted.
type AccessClaims struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	TenantID  *string   `json:"tenant_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsBypassingAdmin reports whether the caller bypasses tenant isolation.
// The bypass requires BOTH the admin role AND a nil tenant identifier: an
// admin pinned to a tenant is tenant-scoped like everyone else.
func (c *AccessClaims) IsBypassingAdmin() bool {
	return c.Role == RoleAdmin && c.TenantID == nil
}

var (
	// ErrInvalidToken covers every token verification failure: bad
	// signature, wrong issuer or audience, expiry, malformed input. One
	// error for all of them so callers cannot be turned into an oracle for
	// which check failed.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrMissingSecret is returned when the signing secret is absent.
	// This is a startup misconfiguration, not a per-request condition.
	ErrMissingSecret = errors.New("token signing secret is not configured")
)

// ForbiddenError is returned when a valid identity lacks the required role.
// The message lists the allowed roles and the caller's actual role; it never
// contains tenant data.
type ForbiddenError struct {
	Allowed []Role
	Actual  Role
}

func (e *ForbiddenError) Error() string {
	msg := "access denied: requires one of ["
	for i, r := range e.Allowed {
		if i > 0 {
			msg += ", "
		}
		msg += string(r)
	}
	return msg + "], current role is " + string(e.Actual)
}

// RequireRole checks the caller's role against an allowed set. Admin passes
// regardless of the set; this bypass depends on role alone (the tenant
// bypass in pkg/tenancy additionally requires a nil tenant).
func RequireRole(claims *AccessClaims, allowed ...Role) error {
	if claims == nil {
		return &ForbiddenError{Allowed: allowed}
	}
	if claims.Role == RoleAdmin {
		return nil
	}
	for _, role := range allowed {
		if claims.Role == role {
			return nil
		}
	}
	return &ForbiddenError{Allowed: allowed, Actual: claims.Role}
}

// HasRole is the non-failing variant of RequireRole, used for conditional
// behavior rather than hard gating. Admin always has every role.
func HasRole(claims *AccessClaims, role Role) bool {
	if claims == nil {
		return false
	}
	if claims.Role == RoleAdmin {
		return true
	}
	return claims.Role == role
}
