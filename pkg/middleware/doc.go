// Package middleware implements the request pipeline. Order matters and is
// fixed:
//
//	RequestID → Recovery → Auth → TenantContext → RequireRole → RateLimit → handler
//
// RequestID runs first so every later stage, including panic recovery, can
// tag its output. Recovery sits above everything that can fail. Auth
// verifies the access token and attaches claims; TenantContext derives the
// mandatory tenant scope from those claims and fails closed when it
// cannot. RequireRole gates per route. RateLimit runs last among the
// gates: an unauthorized or forbidden request should not consume quota,
// and the authenticated tiers need the verified user ID as their subject.
//
// Public routes use the same pipeline minus Auth/TenantContext/RequireRole,
// with the anonymous rate-limit tier keyed on client IP.
package middleware
