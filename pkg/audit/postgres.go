package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresLogger appends audit events to the audit_log table:
//
//	CREATE TABLE audit_log (
//	    id          BIGSERIAL PRIMARY KEY,
//	    timestamp   TIMESTAMPTZ NOT NULL,
//	    event_type  VARCHAR(100) NOT NULL,
//	    status      VARCHAR(20) NOT NULL,
//	    user_id     UUID,
//	    email       VARCHAR(255),
//	    tenant_id   UUID,
//	    ip_address  VARCHAR(45),
//	    user_agent  TEXT,
//	    request_id  VARCHAR(100),
//	    message     TEXT
//	);
//	CREATE INDEX idx_audit_log_timestamp ON audit_log (timestamp DESC);
//	CREATE INDEX idx_audit_log_user_id ON audit_log (user_id);
//	CREATE INDEX idx_audit_log_event_type ON audit_log (event_type);
//
// The table deliberately has no tenant row-level-security policy: a
// cross-tenant denial must be recordable even though the actor's scope
// forbids touching the victim tenant's rows.
type PostgresLogger struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db, now: time.Now}
}

func (l *PostgresLogger) Record(ctx context.Context, event *Event) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	var userID, email, ip, userAgent, requestID interface{}
	if event.UserID != "" {
		userID = event.UserID
	}
	if event.Email != "" {
		email = event.Email
	}
	if event.IP != "" {
		ip = event.IP
	}
	if event.UserAgent != "" {
		userAgent = event.UserAgent
	}
	if event.RequestID != "" {
		requestID = event.RequestID
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			timestamp, event_type, status,
			user_id, email, tenant_id,
			ip_address, user_agent, request_id, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ts, event.Type, event.Status,
		userID, email, event.TenantID,
		ip, userAgent, requestID, event.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Prune deletes entries older than the retention horizon and returns how
// many were removed.
func (l *PostgresLogger) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	return result.RowsAffected()
}
