package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzrportal/bzrportal/pkg/audit"
	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/contextkeys"
	"github.com/bzrportal/bzrportal/pkg/tenancy"
)

func requestWithClaims(claims *auth.AccessClaims) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if claims == nil {
		return req
	}
	return req.WithContext(contextkeys.WithClaims(context.Background(), claims))
}

func TestTenantContext_ScopedUser(t *testing.T) {
	m := NewTenantContextMiddleware(testMetrics(), testLogger())

	var scope tenancy.Scope
	var ok bool
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok = GetScope(r)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(&auth.AccessClaims{
		UserID:   "user-1",
		Role:     auth.RoleHRManager,
		TenantID: strPtr("tenant-a"),
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ok)
	assert.False(t, scope.Bypass)
	assert.Equal(t, "tenant-a", scope.TenantID)
}

func TestTenantContext_BypassingAdmin(t *testing.T) {
	m := NewTenantContextMiddleware(testMetrics(), testLogger())

	var scope tenancy.Scope
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, _ = GetScope(r)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(&auth.AccessClaims{
		UserID: "admin-1",
		Role:   auth.RoleAdmin,
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, scope.Bypass)
}

func TestTenantContext_TenantPinnedAdminIsScoped(t *testing.T) {
	m := NewTenantContextMiddleware(testMetrics(), testLogger())

	var scope tenancy.Scope
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, _ = GetScope(r)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(&auth.AccessClaims{
		UserID:   "admin-1",
		Role:     auth.RoleAdmin,
		TenantID: strPtr("tenant-a"),
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, scope.Bypass)
	assert.Equal(t, "tenant-a", scope.TenantID)
}

// A non-admin without a tenant must be stopped here, not fall through to
// handlers with an unfiltered view.
func TestTenantContext_MisconfiguredCredentialFailsClosed(t *testing.T) {
	m := NewTenantContextMiddleware(testMetrics(), testLogger())

	handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(&auth.AccessClaims{
		UserID: "user-1",
		Role:   auth.RoleViewer,
	}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type captureAudit struct {
	events []*audit.Event
}

func (c *captureAudit) Record(_ context.Context, event *audit.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestTenantContext_DenialIsAudited(t *testing.T) {
	sink := &captureAudit{}
	m := NewTenantContextMiddleware(testMetrics(), testLogger()).WithAudit(sink)

	handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(&auth.AccessClaims{
		UserID: "user-1",
		Role:   auth.RoleViewer,
	}))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.EventTenantDenied, sink.events[0].Type)
	assert.Equal(t, "user-1", sink.events[0].UserID)
}

func TestTenantContext_NoClaims(t *testing.T) {
	m := NewTenantContextMiddleware(testMetrics(), testLogger())

	handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
