package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/bzrportal/bzrportal/pkg/audit"
	"github.com/bzrportal/bzrportal/pkg/contextkeys"
	"github.com/bzrportal/bzrportal/pkg/httputil"
	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/tenancy"
)

// TenantContextMiddleware derives the mandatory tenant scope from the
// verified claims and attaches it to the context. It runs after Auth on
// every tenant-scoped route. A credential whose scope cannot be computed
// is denied here, before any handler touches data.
type TenantContextMiddleware struct {
	metrics *observability.Metrics
	log     *observability.Logger
	audit   audit.Logger
}

func NewTenantContextMiddleware(metrics *observability.Metrics, log *observability.Logger) *TenantContextMiddleware {
	return &TenantContextMiddleware{metrics: metrics, log: log, audit: audit.NopLogger{}}
}

// WithAudit attaches an audit sink for denied scopes. Optional.
func (m *TenantContextMiddleware) WithAudit(sink audit.Logger) *TenantContextMiddleware {
	if sink != nil {
		m.audit = sink
	}
	return m
}

func (m *TenantContextMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r)
		if claims == nil {
			httputil.WriteUnauthenticated(w)
			return
		}

		scope, err := tenancy.ScopeFromClaims(claims)
		if err != nil {
			if m.metrics != nil {
				m.metrics.ScopeFailClosedTotal.Inc()
			}
			if errors.Is(err, tenancy.ErrMisconfiguredTenant) {
				// a non-admin credential without a tenant is a data bug,
				// not client error noise
				m.log.WithFields(map[string]interface{}{
					"user_id":    claims.UserID,
					"role":       string(claims.Role),
					"request_id": contextkeys.GetRequestID(r.Context()),
				}).Error("credential has no tenant, denying all data access")
			}
			if auditErr := m.audit.Record(r.Context(), &audit.Event{
				Timestamp: time.Now(),
				Type:      audit.EventTenantDenied,
				Status:    audit.StatusDenied,
				UserID:    claims.UserID,
				RequestID: contextkeys.GetRequestID(r.Context()),
			}); auditErr != nil {
				m.log.WithError(auditErr).Warn("failed to record audit event")
			}
			httputil.WriteForbidden(w)
			return
		}

		ctx := contextkeys.WithScope(r.Context(), scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetScope extracts the tenant scope from the request. The false return
// means the pipeline never computed one; treat it as deny.
func GetScope(r *http.Request) (tenancy.Scope, bool) {
	scope, ok := r.Context().Value(contextkeys.ScopeKey).(tenancy.Scope)
	return scope, ok
}
