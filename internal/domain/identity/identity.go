// Package identity defines the verified identity model consumed by the
// authorization pipeline.
package identity

import (
	"errors"
	"net/mail"
	"time"
)

// Identity is the claims record produced by token verification. It is
// read-only for the rest of the pipeline.
type Identity struct {
	UserID       string   `json:"user_id"`
	Email        string   `json:"email"`
	CompanyID    string   `json:"company_id"`
	RoleIDs      []string `json:"role_ids"`
	Permissions  []string `json:"permissions"`
	TokenVersion int      `json:"token_version"`
	Superadmin   bool     `json:"superadmin"`
}

// HasPermission reports whether the identity carries any of the given
// permission keys (OR semantics).
func (id *Identity) HasPermission(keys ...string) bool {
	for _, want := range keys {
		for _, have := range id.Permissions {
			if have == want {
				return true
			}
		}
	}
	return false
}

// HasRole reports whether the identity carries any of the given role IDs.
func (id *Identity) HasRole(roleIDs ...string) bool {
	for _, want := range roleIDs {
		for _, have := range id.RoleIDs {
			if have == want {
				return true
			}
		}
	}
	return false
}

// User represents a registered user within a company.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"` // never serialized
	CompanyID    string    `json:"company_id"`
	RoleIDs      []string  `json:"role_ids"`
	Permissions  []string  `json:"permissions"`
	TokenVersion int       `json:"token_version"`
	Superadmin   bool      `json:"superadmin"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest is the input for user authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
}

// Validate checks that the LoginRequest has all required fields.
func (r *LoginRequest) Validate() error {
	if r.Email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("invalid email format")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// LoginResponse is returned after successful authentication.
type LoginResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // response field, not a hardcoded secret
	ExpiresIn   int    `json:"expires_in"`   // seconds until access token expires
	User        User   `json:"user"`
}

// RefreshToken represents a stored refresh token.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
