package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bzrportal/bzrportal/pkg/contextkeys"
)

// RequestIDHeader carries the correlation ID in both directions. An
// inbound value from the load balancer is kept; otherwise one is minted.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a correlation ID to the context and echoes it in the
// response headers. Error bodies are deliberately opaque; this ID is the
// handle support uses to find the server-side detail.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
