package accounts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzrportal/bzrportal/pkg/audit"
	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/contextkeys"
	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/sessions"
)

func newTestHandler(t *testing.T) (*Handler, *Service) {
	t.Helper()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte("test-secret-key-for-handlers"),
	})
	require.NoError(t, err)

	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := NewService(NewMemoryStore(), sessions.NewMemoryStore(), tokens, audit.NopLogger{}, log)
	return NewHandler(svc, log, false), svc
}

func newTestRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterPublicRoutes(r)
	h.RegisterProtectedRoutes(r)
	return r
}

func doJSON(t *testing.T, router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Register(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"officer@firma.rs","password":"correct horse battery"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
	assert.Equal(t, "officer@firma.rs", body.User.Email)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	// httpOnly cookies for browser clients
	cookies := rec.Result().Cookies()
	names := make(map[string]*http.Cookie, len(cookies))
	for _, c := range cookies {
		names[c.Name] = c
	}
	require.Contains(t, names, AccessCookieName)
	require.Contains(t, names, RefreshCookieName)
	assert.True(t, names[RefreshCookieName].HttpOnly)
	assert.Equal(t, refreshCookiePath, names[RefreshCookieName].Path)
}

func TestHandler_Register_Conflict(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	body := `{"email":"officer@firma.rs","password":"correct horse battery"}`
	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/auth/register", body).Code)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflict")
}

func TestHandler_Register_Validation(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"officer@firma.rs","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"nonsense","password":"long enough password"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/register", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Login_GenericUnauthorized(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"officer@firma.rs","password":"correct horse battery"}`)

	recUnknown := doJSON(t, router, http.MethodPost, "/api/auth/login",
		`{"email":"nobody@firma.rs","password":"whatever password"}`)
	recWrongPw := doJSON(t, router, http.MethodPost, "/api/auth/login",
		`{"email":"officer@firma.rs","password":"wrong password!"}`)

	assert.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	assert.Equal(t, http.StatusUnauthorized, recWrongPw.Code)
	// identical bodies: no probing which emails exist
	assert.JSONEq(t, recUnknown.Body.String(), recWrongPw.Body.String())
}

func TestHandler_Refresh_FromBodyAndCookie(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"officer@firma.rs","password":"correct horse battery"}`)
	var registered authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))

	// body
	rec = doJSON(t, router, http.MethodPost, "/api/auth/refresh",
		`{"refreshToken":"`+registered.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEqual(t, registered.RefreshToken, refreshed.RefreshToken)

	// cookie
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refreshed.RefreshToken})
	cookieRec := httptest.NewRecorder()
	router.ServeHTTP(cookieRec, req)
	assert.Equal(t, http.StatusOK, cookieRec.Code)

	// the first token was consumed by rotation
	rec = doJSON(t, router, http.MethodPost, "/api/auth/refresh",
		`{"refreshToken":"`+registered.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Logout_AlwaysSucceeds(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	for _, body := range []string{
		`{"refreshToken":"garbage"}`,
		``,
		`{broken`,
	} {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/logout", body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":true`)
	}
}

func TestHandler_Logout_RevokesSession(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"officer@firma.rs","password":"correct horse battery"}`)
	var registered authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))

	rec = doJSON(t, router, http.MethodPost, "/api/auth/logout",
		`{"refreshToken":"`+registered.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/refresh",
		`{"refreshToken":"`+registered.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// Protected endpoints answer 401 when the pipeline attached no claims.
func TestHandler_ProtectedWithoutClaims(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/logout-all", ``)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/auth/sessions", ``)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_LogoutAll(t *testing.T) {
	h, svc := newTestHandler(t)
	router := newTestRouter(h)

	result := register(t, svc, "officer@firma.rs")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout-all", nil)
	req = req.WithContext(contextkeys.WithClaims(context.Background(), &auth.AccessClaims{
		UserID:   result.User.ID,
		Role:     result.User.Role,
		TenantID: result.User.TenantID,
	}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessionsRevoked":1`)
}

func TestHandler_ChangePassword(t *testing.T) {
	h, svc := newTestHandler(t)
	router := newTestRouter(h)

	result := register(t, svc, "officer@firma.rs")
	claims := &auth.AccessClaims{
		UserID:   result.User.ID,
		Role:     result.User.Role,
		TenantID: result.User.TenantID,
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password",
		strings.NewReader(`{"currentPassword":"correct horse battery","newPassword":"brand new password"}`))
	req = req.WithContext(contextkeys.WithClaims(context.Background(), claims))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// the session opened at registration is gone
	rec = doJSON(t, router, http.MethodPost, "/api/auth/refresh",
		`{"refreshToken":"`+result.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// wrong current password
	req = httptest.NewRequest(http.MethodPost, "/api/auth/change-password",
		strings.NewReader(`{"currentPassword":"wrong password!","newPassword":"brand new password"}`))
	req = req.WithContext(contextkeys.WithClaims(context.Background(), claims))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}
