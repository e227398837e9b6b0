package domain

import "time"

// User is the credential record. PasswordHash is empty for accounts created
// through an external provider (passwordless); such accounts must always keep
// at least one linked identity.
type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string // argon2id encoded, empty for external-only accounts
	SecurityStamp string // rotates on any security-relevant change, kills old access tokens

	TwoFactorEnabled *time.Time // set when 2FA verification completed (nullable)
	TwoFactorSecret  *string    // TOTP secret, base32 (nullable)
	LockedAt         *time.Time // administrative lock (nullable)

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (u User) HasPassword() bool { return u.PasswordHash != "" }

// IsLocked reports whether the account has been administratively locked.
func (u User) IsLocked() bool { return u.LockedAt != nil }

// TwoFactorActive reports whether a verified second factor is enabled.
func (u User) TwoFactorActive() bool {
	return u.TwoFactorEnabled != nil && u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}
