// Package tenancy is the tenant-isolation engine. Every data access that is
// naturally scoped to a tenant is bounded twice, by two independent layers:
//
//  1. Application layer: Scope produces the mandatory filter predicate that
//     query builders append to tenant-scoped queries.
//  2. Storage layer: BeginScoped sets a transaction-local context value
//     (app.tenant_id) that the database's own row-level-security policies
//     consult, independently of whatever the application query did or did
//     not filter on.
//
// Collapsing the two layers into one is a change to the failure model, not a
// cleanup: with both layers a cross-tenant leak needs two independent bugs.
package tenancy

import (
	"errors"
	"fmt"

	"github.com/bzrportal/bzrportal/pkg/auth"
)

var (
	// ErrMisconfiguredTenant is returned when a non-admin credential
	// carries no tenant identifier. That credential cannot be scoped, so
	// every data access fails closed rather than running unfiltered.
	ErrMisconfiguredTenant = errors.New("credential has no tenant assigned")

	// ErrAccessDenied is the generic cross-tenant denial. The message
	// never names the tenant that owns the resource; a permission error
	// must not double as an information-disclosure oracle.
	ErrAccessDenied = errors.New("access denied")
)

// Scope is the per-request tenant filter. Zero value is unusable; always
// construct through ScopeFromClaims.
type Scope struct {
	// TenantID bounds every query when Bypass is false
	TenantID string
	// Bypass is true only for the platform operator: role admin AND a nil
	// tenant identifier. A tenant-pinned admin gets a regular scope.
	Bypass bool
}

// ScopeFromClaims computes the mandatory filter for a verified caller.
// Fails closed on a non-admin credential without a tenant.
func ScopeFromClaims(claims *auth.AccessClaims) (Scope, error) {
	if claims == nil {
		return Scope{}, ErrAccessDenied
	}
	if claims.IsBypassingAdmin() {
		return Scope{Bypass: true}, nil
	}
	if claims.TenantID == nil || *claims.TenantID == "" {
		return Scope{}, ErrMisconfiguredTenant
	}
	return Scope{TenantID: *claims.TenantID}, nil
}

// Allows reports whether a record owned by resourceTenantID is visible
// under this scope.
func (s Scope) Allows(resourceTenantID string) bool {
	if s.Bypass {
		return true
	}
	return s.TenantID != "" && s.TenantID == resourceTenantID
}

// FilterSQL renders the application-layer predicate for a tenant column.
// Returns an empty fragment for the bypassing admin (no filter at all) and
// "column = $n" otherwise, with the tenant ID as the argument. nextArg is
// the 1-based index of the next placeholder in the surrounding query.
func (s Scope) FilterSQL(column string, nextArg int) (string, []interface{}) {
	if s.Bypass {
		return "", nil
	}
	return fmt.Sprintf("%s = $%d", column, nextArg), []interface{}{s.TenantID}
}

// VerifyOwnership is the point check run before mutating or deleting an
// already-fetched record. Any scope failure, including a misconfigured
// credential, collapses to the generic denial.
func VerifyOwnership(resourceTenantID string, claims *auth.AccessClaims) error {
	scope, err := ScopeFromClaims(claims)
	if err != nil {
		return ErrAccessDenied
	}
	if !scope.Allows(resourceTenantID) {
		return ErrAccessDenied
	}
	return nil
}
