package middleware

import (
	"net/http"

	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/contextkeys"
	"github.com/bzrportal/bzrportal/pkg/httputil"
	"github.com/bzrportal/bzrportal/pkg/observability"
)

// AuthMiddleware verifies the access token and attaches the claims to the
// request context. The token comes from the Authorization header, with
// the httpOnly cookie as fallback for browser clients; the header wins.
type AuthMiddleware struct {
	tokens     *auth.TokenService
	metrics    *observability.Metrics
	cookieName string
	// optional lets anonymous requests through without claims. A present
	// but invalid token is still rejected; "optional" never means
	// "accept garbage".
	optional bool
}

func NewAuthMiddleware(tokens *auth.TokenService, metrics *observability.Metrics, cookieName string, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:     tokens,
		metrics:    metrics,
		cookieName: cookieName,
		optional:   optional,
	}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httputil.BearerToken(r, m.cookieName)
		if token == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthenticated(w)
			return
		}

		claims, err := m.tokens.VerifyAccessToken(token)
		if err != nil {
			// one generic response for every failure mode
			if m.metrics != nil {
				m.metrics.TokenVerifications.WithLabelValues("access", "failure").Inc()
			}
			httputil.WriteUnauthenticated(w)
			return
		}
		if m.metrics != nil {
			m.metrics.TokenVerifications.WithLabelValues("access", "success").Inc()
		}

		ctx := contextkeys.WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts the verified claims from the request, nil for
// anonymous requests.
func GetClaims(r *http.Request) *auth.AccessClaims {
	claims, _ := r.Context().Value(contextkeys.ClaimsKey).(*auth.AccessClaims)
	return claims
}
