// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/bzrportal/bzrportal/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.ClaimsKey, claims)
//   claims := ctx.Value(contextkeys.ClaimsKey).(*auth.AccessClaims)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClaimsKey contains *auth.AccessClaims for the authenticated caller
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: tenant middleware, role gates, all protected endpoints
	// Type: *auth.AccessClaims (absent for anonymous requests)
	ClaimsKey Key = "access_claims"

	// ScopeKey contains tenancy.Scope, the mandatory per-tenant filter
	// Set by: middleware.TenantContextMiddleware (pkg/middleware/tenant.go)
	// Required by: every tenant-scoped data access
	// Type: tenancy.Scope
	ScopeKey Key = "tenant_scope"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"
)

// Helper functions for type-safe context operations

// WithClaims adds verified access claims to the context
func WithClaims(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// WithScope adds the computed tenant scope to the context
func WithScope(ctx context.Context, scope interface{}) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
