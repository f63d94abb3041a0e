package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/bzrportal/bzrportal/pkg/contextkeys"
	"github.com/bzrportal/bzrportal/pkg/httputil"
	"github.com/bzrportal/bzrportal/pkg/observability"
)

// Recovery turns a handler panic into an opaque 500. The stack goes to
// the log with the request ID; the client sees nothing of it.
func Recovery(log *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(map[string]interface{}{
						"panic":      rec,
						"stack":      string(debug.Stack()),
						"path":       r.URL.Path,
						"method":     r.Method,
						"request_id": contextkeys.GetRequestID(r.Context()),
					}).Error("panic recovered in request handler")
					httputil.WriteInternal(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
