package auth

import "time"

type User struct {
	ID               string
	Name             *string
	Email            string
	EmailVerified    *time.Time
	PasswordHash     *string
	Image            *string
	Theme            string
	TOTPSecret       *string
	TwoFactorEnabled bool
	Role             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RoleUser is the role every account starts with; it matches the column
// default in the users table and the `role` claim in access tokens.
const RoleUser = "user"

const (
	TokenTypePasswordReset = "password_reset"
	TokenTypeEmailVerify   = "email_verify"
)

// AuthToken is a single-use credential (password reset link, email
// verification code). The raw value is never stored, only its SHA-256 hash.
type AuthToken struct {
	ID        string
	UserID    string
	Type      string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
