package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/quota"
)

func newRateLimit(rules map[quota.Tier]quota.Rule) *RateLimitMiddleware {
	limiter := quota.NewLimiter(quota.NewMemoryStore(), rules)
	return NewRateLimitMiddleware(limiter, testMetrics(), testLogger())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_HeadersOnEveryResponse(t *testing.T) {
	m := newRateLimit(map[quota.Tier]quota.Rule{
		quota.TierAnonymous: {Limit: 2, Window: time.Minute},
	})
	handler := m.Limit(quota.TierAnonymous, "login")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_DeniesOverLimit(t *testing.T) {
	m := newRateLimit(map[quota.Tier]quota.Rule{
		quota.TierAnonymous: {Limit: 1, Window: time.Minute},
	})
	handler := m.Limit(quota.TierAnonymous, "login")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
	assert.Contains(t, rec.Body.String(), "retryAfter")
}

func TestRateLimit_AuthenticatedSubjectIsUserNotIP(t *testing.T) {
	m := newRateLimit(map[quota.Tier]quota.Rule{
		quota.TierStrict: {Limit: 1, Window: time.Hour},
	})
	handler := m.Limit(quota.TierStrict, "generate_document")(okHandler())

	newReq := func(userID, ip string) *http.Request {
		req := requestWithClaims(&auth.AccessClaims{
			UserID:   userID,
			Role:     auth.RoleBZROfficer,
			TenantID: strPtr("tenant-a"),
		})
		req.RemoteAddr = ip
		return req
	}

	// same user from two addresses shares one counter
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("user-1", "203.0.113.7:1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("user-1", "198.51.100.4:2"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// a different user is unaffected
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("user-2", "203.0.113.7:3"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingCounterStore struct{}

func (failingCounterStore) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func TestRateLimit_StoreFailureDenies(t *testing.T) {
	limiter := quota.NewLimiter(failingCounterStore{}, nil)
	m := NewRateLimitMiddleware(limiter, testMetrics(), testLogger())
	handler := m.Limit(quota.TierAnonymous, "login")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the counter store is down")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
