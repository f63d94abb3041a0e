package middleware

import (
	"net/http"
	"strconv"

	"github.com/bzrportal/bzrportal/pkg/contextkeys"
	"github.com/bzrportal/bzrportal/pkg/httputil"
	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/quota"
)

// RateLimitMiddleware enforces per-tier quotas. The subject is the
// verified user ID when claims are present, the client IP otherwise. The
// X-RateLimit-* headers go out on every response, allowed or denied.
type RateLimitMiddleware struct {
	limiter *quota.Limiter
	metrics *observability.Metrics
	log     *observability.Logger
}

func NewRateLimitMiddleware(limiter *quota.Limiter, metrics *observability.Metrics, log *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		metrics: metrics,
		log:     log,
	}
}

// Limit wraps a route with the given tier and operation. Operations have
// independent counters; spending login quota leaves document quota alone.
func (m *RateLimitMiddleware) Limit(tier quota.Tier, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := httputil.ClientIP(r)
			if claims := GetClaims(r); claims != nil {
				subject = claims.UserID
			}

			decision, err := m.limiter.Check(r.Context(), tier, subject, operation)
			if err != nil {
				// counter backend down: deny rather than run unmetered
				m.log.WithError(err).
					WithField("request_id", contextkeys.GetRequestID(r.Context())).
					Error("quota check failed, denying request")
				if m.metrics != nil {
					m.metrics.QuotaDecisionsTotal.WithLabelValues(string(tier), "error").Inc()
				}
				httputil.WriteInternal(w)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				if m.metrics != nil {
					m.metrics.QuotaDecisionsTotal.WithLabelValues(string(tier), "denied").Inc()
				}
				httputil.WriteRateLimited(w, decision.RetryAfter)
				return
			}

			if m.metrics != nil {
				m.metrics.QuotaDecisionsTotal.WithLabelValues(string(tier), "allowed").Inc()
			}
			next.ServeHTTP(w, r)
		})
	}
}
