package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for password hashing. Raising it only
// affects new hashes; existing hashes keep the cost they were created with.
const BcryptCost = 12

// MinPasswordLength is enforced at registration and password change
const MinPasswordLength = 8

// HashPassword hashes a plaintext password with bcrypt. The returned hash is
// opaque and embeds algorithm, cost and salt.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext password matches the stored
// hash. Deliberately slow; do not call it on paths that must stay cheap
// (quota checks run before this on login).
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
