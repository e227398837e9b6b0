package domain

import "time"

// TwoFactorChallenge bridges a verified first factor to a pending second
// factor. FailedAttempts only ever grows; once it crosses the lockout
// threshold the challenge is dead regardless of remaining TTL.
type TwoFactorChallenge struct {
	ID             string
	UserID         string
	TokenHash      string // fingerprint of the opaque challenge token
	RememberMe     bool   // carried through to refresh-token lifetime selection
	FailedAttempts int
	Used           bool
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// TwoFactorSetup is returned when a user enrolls TOTP. The secret is shown
// exactly once; 2FA is not active until the first code verifies.
type TwoFactorSetup struct {
	Secret     string `json:"secret"`      // base32 TOTP secret
	OTPAuthURL string `json:"otpauth_url"` // otpauth:// URL for QR rendering
	Issuer     string `json:"issuer"`
	Account    string `json:"account"`
}
