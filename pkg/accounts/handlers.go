package accounts

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/contextkeys"
	"github.com/bzrportal/bzrportal/pkg/httputil"
	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/sessions"
)

const (
	// AccessCookieName is the browser fallback for the Authorization
	// header. The header always wins when both are present.
	AccessCookieName = "access_token"
	// RefreshCookieName holds the refresh token for browser clients,
	// scoped to the auth endpoints only.
	RefreshCookieName = "refresh_token"

	refreshCookiePath = "/api/auth"
)

// Handler exposes the authentication endpoints.
type Handler struct {
	service      *Service
	log          *observability.Logger
	cookieSecure bool
}

func NewHandler(service *Service, log *observability.Logger, cookieSecure bool) *Handler {
	return &Handler{
		service:      service,
		log:          log,
		cookieSecure: cookieSecure,
	}
}

// RegisterPublicRoutes mounts the endpoints that need no access token.
func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/api/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", h.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", h.Logout).Methods(http.MethodPost)
}

// RegisterProtectedRoutes mounts the endpoints that require a verified
// access token; the caller wraps the router with the auth middleware.
func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/api/auth/logout-all", h.LogoutAll).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/change-password", h.ChangePassword).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/sessions", h.Sessions).Methods(http.MethodGet)
}

type authResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         *auth.User `json:"user"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"companyName,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		CompanyName: req.CompanyName,
	}, clientMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			httputil.WriteConflict(w)
		case errors.Is(err, ErrInvalidEmail):
			httputil.WriteBadRequest(w, "Email adresa nije ispravna.")
		case errors.Is(err, ErrPasswordTooShort):
			httputil.WriteBadRequest(w, "Lozinka mora imati najmanje 8 karaktera.")
		default:
			h.logError(r, err, "registration failed")
			httputil.WriteInternal(w)
		}
		return
	}

	h.setAuthCookies(w, result)
	httputil.WriteCreated(w, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httputil.WriteUnauthenticated(w)
			return
		}
		h.logError(r, err, "login failed")
		httputil.WriteInternal(w)
		return
	}

	h.setAuthCookies(w, result)
	httputil.WriteSuccess(w, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := h.refreshTokenFrom(r)
	if token == "" {
		httputil.WriteUnauthenticated(w)
		return
	}

	result, err := h.service.Refresh(r.Context(), token, clientMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			h.clearAuthCookies(w)
			httputil.WriteUnauthenticated(w)
			return
		}
		h.logError(r, err, "refresh failed")
		httputil.WriteInternal(w)
		return
	}

	h.setAuthCookies(w, result)
	httputil.WriteSuccess(w, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	})
}

// Logout always answers success. There is nothing useful to tell an
// attacker probing with invented tokens, and a client retrying a logout
// after a network blip should not see an error.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := h.refreshTokenFrom(r); token != "" {
		h.service.Logout(r.Context(), token, clientMeta(r))
	}
	h.clearAuthCookies(w)
	httputil.WriteSuccess(w, map[string]bool{"success": true})
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil {
		httputil.WriteUnauthenticated(w)
		return
	}

	count, err := h.service.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		h.logError(r, err, "logout-all failed")
		httputil.WriteInternal(w)
		return
	}

	h.clearAuthCookies(w)
	httputil.WriteSuccess(w, map[string]interface{}{
		"success":         true,
		"sessionsRevoked": count,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil {
		httputil.WriteUnauthenticated(w)
		return
	}

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			httputil.WriteUnauthenticated(w)
		case errors.Is(err, ErrPasswordTooShort):
			httputil.WriteBadRequest(w, "Lozinka mora imati najmanje 8 karaktera.")
		default:
			h.logError(r, err, "password change failed")
			httputil.WriteInternal(w)
		}
		return
	}

	// every session is gone, including this device's
	h.clearAuthCookies(w)
	httputil.WriteSuccess(w, map[string]bool{"success": true})
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil {
		httputil.WriteUnauthenticated(w)
		return
	}

	list, err := h.service.Sessions(r.Context(), claims.UserID)
	if err != nil {
		h.logError(r, err, "session list failed")
		httputil.WriteInternal(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": list})
}

// refreshTokenFrom reads the refresh token from the JSON body, falling
// back to the httpOnly cookie for browser clients.
func (h *Handler) refreshTokenFrom(r *http.Request) string {
	var req refreshRequest
	if err := httputil.ParseJSON(r, &req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, result *AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    result.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(auth.DefaultAccessTTL),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    result.RefreshToken,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		Expires:  result.RefreshExpiresAt,
	})
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (h *Handler) logError(r *http.Request, err error, msg string) {
	observability.UpdateLoggerWithTraceContext(r.Context(), h.log).
		WithError(err).
		WithField("request_id", contextkeys.GetRequestID(r.Context())).
		WithField("path", r.URL.Path).
		Error(msg)
}

func claimsFrom(r *http.Request) *auth.AccessClaims {
	claims, _ := r.Context().Value(contextkeys.ClaimsKey).(*auth.AccessClaims)
	return claims
}

func clientMeta(r *http.Request) sessions.Metadata {
	return sessions.Metadata{
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
