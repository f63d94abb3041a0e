package middleware

import (
	"net/http"

	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/httputil"
)

// RequireRole gates a route on role membership. Admin passes every gate
// regardless of the allowed set; hr_manager and bzr_officer are siblings,
// so a route for one must list the other explicitly if both may use it.
func RequireRole(allowed ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				httputil.WriteUnauthenticated(w)
				return
			}

			if err := auth.RequireRole(claims, allowed...); err != nil {
				httputil.WriteForbidden(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
