// Package storage provides the PostgreSQL record keeper shared by the three
// workers and the read API: event store, cross-match store, and user store.
package storage

import "time"

type (
	// User is a read-API account. The pipeline never writes users beyond
	// the bootstrap path; the workers ignore them entirely.
	User struct {
		ID       int64
		Username string

		// PasswordHash is the bcrypt hash; the plaintext never persists.
		PasswordHash string

		Email string

		// Role is one of external, partner, caltech.
		Role Role

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Role controls what a read-API account can see.
	Role string
)

const (
	// RoleExternal sees only non-archival matches within the configured
	// delta-t bound, latest event versions only.
	RoleExternal Role = "external"

	// RolePartner additionally sees the cross-event candidates listing.
	RolePartner Role = "partner"

	// RoleCaltech is unrestricted, including archival rows.
	RoleCaltech Role = "caltech"
)

// IsValid checks the role is a known account type.
func (r Role) IsValid() bool {
	switch r {
	case RoleExternal, RolePartner, RoleCaltech:
		return true
	default:
		return false
	}
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}
