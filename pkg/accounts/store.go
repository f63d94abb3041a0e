// Package accounts owns the credential store and the authentication
// service: registration, login, refresh-token rotation, logout and
// password change, plus the HTTP endpoints that expose them.
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/bzrportal/bzrportal/pkg/auth"
)

var (
	// ErrEmailTaken is returned when registration hits the unique
	// constraint on the lowercased email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUserNotFound is an internal store miss. It never reaches a
	// client; login collapses it into ErrInvalidCredentials.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is the single login failure. "No such user"
	// and "wrong password" are indistinguishable on purpose.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPasswordTooShort rejects passwords below the minimum length.
	ErrPasswordTooShort = errors.New("password too short")

	// ErrInvalidEmail rejects syntactically unusable email addresses.
	ErrInvalidEmail = errors.New("invalid email address")
)

// Store is the durable credential store. Emails are unique
// case-insensitively; implementations index on lower(email).
type Store interface {
	// Create inserts a new credential. Returns ErrEmailTaken when the
	// email is already registered.
	Create(ctx context.Context, user *auth.User) error

	// FindByEmail looks a user up by email, case-insensitively.
	FindByEmail(ctx context.Context, email string) (*auth.User, error)

	// FindByID looks a user up by primary key.
	FindByID(ctx context.Context, id string) (*auth.User, error)

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// RecordLogin stamps the user's last successful login.
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}
