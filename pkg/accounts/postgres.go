package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bzrportal/bzrportal/pkg/auth"
)

// PostgresStore persists credentials in the users table:
//
//	CREATE TABLE users (
//	    id             UUID PRIMARY KEY,
//	    email          VARCHAR(255) NOT NULL,
//	    password_hash  VARCHAR(255) NOT NULL,
//	    company_name   VARCHAR(255) NOT NULL DEFAULT '',
//	    role           VARCHAR(20) NOT NULL,
//	    tenant_id      UUID,
//	    email_verified BOOLEAN NOT NULL DEFAULT FALSE,
//	    tier           VARCHAR(20) NOT NULL DEFAULT 'trial',
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    last_login_at  TIMESTAMPTZ
//	);
//	CREATE UNIQUE INDEX idx_users_email ON users (lower(email));
//	CREATE INDEX idx_users_tenant_id ON users (tenant_id);
//
// tenant_id is NULL only for the platform operator account. The table has
// no tenant RLS policy; authentication runs before a tenant scope exists.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, company_name, role, tenant_id, email_verified, tier, created_at, last_login_at`

func (s *PostgresStore) Create(ctx context.Context, user *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, company_name, role, tenant_id, email_verified, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.PasswordHash, user.CompanyName, user.Role, user.TenantID,
		user.EmailVerified, user.Tier, user.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var user auth.User
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CompanyName, &user.Role,
		&user.TenantID, &user.EmailVerified, &user.Tier, &user.CreatedAt, &user.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}
