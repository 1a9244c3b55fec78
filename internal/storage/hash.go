package storage

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost defines the computational cost for bcrypt hashing.
	// Cost 10 = ~60ms per hash. Can be raised to 12 (~250ms) for
	// security hardening.
	bcryptCost  = 10
	bcryptLimit = 72
)

// ErrEmptyPassword is returned when an empty password is hashed.
var ErrEmptyPassword = errors.New("password cannot be empty")

// HashPassword generates a bcrypt hash of a user password. Passwords are
// never stored in plaintext; only the hash is persisted.
//
// Bcrypt has a 72-byte input limit, so longer passwords are pre-hashed with
// SHA-256 before bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// ComparePasswordHash checks a password against its stored bcrypt hash in
// constant time. Returns false for any error condition (empty inputs,
// invalid hash format).
func ComparePasswordHash(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil
}

// bcryptInput prepares a password for bcrypt, pre-hashing with SHA-256 when
// it exceeds bcrypt's 72-byte limit. Both hash and compare must use the same
// preparation.
func bcryptInput(password string) []byte {
	if len(password) > bcryptLimit {
		sum := sha256.Sum256([]byte(password))

		return sum[:]
	}

	return []byte(password)
}
