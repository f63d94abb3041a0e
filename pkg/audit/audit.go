// Package audit records security-relevant events: authentication outcomes,
// session lifecycle, and denied tenant scopes. The trail is append-only
// and never contains credentials or token material.
package audit

import (
	"context"
	"time"

	"github.com/bzrportal/bzrportal/pkg/observability"
)

// EventType categorizes an audit entry.
type EventType string

const (
	EventLogin          EventType = "auth.login"
	EventLoginFailed    EventType = "auth.login_failed"
	EventLogout         EventType = "auth.logout"
	EventLogoutAll      EventType = "auth.logout_all"
	EventRegister       EventType = "auth.register"
	EventRefresh        EventType = "auth.refresh"
	EventRefreshFailed  EventType = "auth.refresh_failed"
	EventPasswordChange EventType = "auth.password_change"

	EventTenantDenied EventType = "authz.tenant_denied"
)

// Status is the outcome of the event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is one audit entry. UserID and TenantID are optional because
// failed logins and anonymous denials have no verified identity.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event_type"`
	Status    Status    `json:"status"`

	UserID   string  `json:"user_id,omitempty"`
	Email    string  `json:"email,omitempty"`
	TenantID *string `json:"tenant_id,omitempty"`

	IP        string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message string `json:"message,omitempty"`
}

// Logger records audit events. Implementations must not block request
// handling on slow sinks; failures are reported, not fatal.
type Logger interface {
	Record(ctx context.Context, event *Event) error
}

// LogLogger emits audit events to the structured application log. It is
// the fallback sink and the default in development.
type LogLogger struct {
	log *observability.Logger
}

func NewLogLogger(log *observability.Logger) *LogLogger {
	return &LogLogger{log: log}
}

func (l *LogLogger) Record(_ context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit":      true,
		"event_type": string(event.Type),
		"status":     string(event.Status),
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.TenantID != nil {
		fields["tenant_id"] = *event.TenantID
	}
	if event.IP != "" {
		fields["ip"] = event.IP
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	l.log.WithFields(fields).Info(event.Message)
	return nil
}

// NopLogger discards everything. For tests.
type NopLogger struct{}

func (NopLogger) Record(context.Context, *Event) error { return nil }
