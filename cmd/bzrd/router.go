package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bzrportal/bzrportal/pkg/accounts"
	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/config"
	"github.com/bzrportal/bzrportal/pkg/httputil"
	"github.com/bzrportal/bzrportal/pkg/middleware"
	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/quota"
)

const maxRequestBody = 1 << 20 // 1 MiB, auth payloads are tiny

type routerDeps struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tokens  *auth.TokenService
	limiter *quota.Limiter
	handler *accounts.Handler
}

// buildRouter assembles the auth surface. The public endpoints are rate
// limited at the anonymous tier keyed by client IP; the account endpoints
// run behind strict token verification and the authenticated tier.
// Tenant-scoped data routers compose pkg/middleware the same way on top
// of this pipeline.
func buildRouter(d routerDeps) http.Handler {
	r := mux.NewRouter()

	authRequired := middleware.NewAuthMiddleware(d.tokens, d.metrics, accounts.AccessCookieName, false)
	rate := middleware.NewRateLimitMiddleware(d.limiter, d.metrics, d.logger)

	h := d.handler
	public := func(operation string, fn http.HandlerFunc) http.Handler {
		return rate.Limit(quota.TierAnonymous, operation)(fn)
	}
	r.Handle("/api/auth/register", public("register", h.Register)).Methods(http.MethodPost)
	r.Handle("/api/auth/login", public("login", h.Login)).Methods(http.MethodPost)
	r.Handle("/api/auth/refresh", public("refresh", h.Refresh)).Methods(http.MethodPost)
	r.Handle("/api/auth/logout", public("logout", h.Logout)).Methods(http.MethodPost)

	protected := httputil.Chain(
		authRequired.Handler,
		rate.Limit(quota.TierAuthenticated, "account"),
	)
	r.Handle("/api/auth/logout-all", protected(http.HandlerFunc(h.LogoutAll))).Methods(http.MethodPost)
	r.Handle("/api/auth/change-password", protected(http.HandlerFunc(h.ChangePassword))).Methods(http.MethodPost)
	r.Handle("/api/auth/sessions", protected(http.HandlerFunc(h.Sessions))).Methods(http.MethodGet)

	var root http.Handler = httputil.Chain(
		middleware.RequestID,
		middleware.Recovery(d.logger),
		httputil.CORSMiddleware(d.cfg.Server.CORSAllowedOrigins),
		httputil.MaxBytesMiddleware(maxRequestBody),
	)(d.metrics.InstrumentHandler("/api/auth", r))

	if d.cfg.Observability.OTelEnabled {
		root = otelhttp.NewHandler(root, "bzrd")
	}
	return root
}
