package domain

import "time"

// TokenPair is what a completed authentication returns: the short-lived
// signed access token (JWT) and the opaque single-use refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    int64  `json:"expires_in"`           // seconds until access expiry
}

// RefreshToken models a stored refresh token row. Rows are never mutated
// except to flip Used (rotation) or Invalidated (revocation / breach).
// At most one unused, non-invalidated row exists per rotation chain.
type RefreshToken struct {
	ID          string
	UserID      string
	TokenHash   string // deterministic fingerprint (base64url SHA-256), plaintext never stored
	RememberMe  bool   // selects the persistent vs session lifetime policy on rotation
	Used        bool
	Invalidated bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LoginResult is the outcome of a first-factor login. Either Tokens is set,
// or RequiresTwoFactor is true and ChallengeToken bridges to the second
// factor. The challenge token alone grants nothing.
type LoginResult struct {
	Tokens            *TokenPair `json:"tokens,omitempty"`
	RequiresTwoFactor bool       `json:"requires_two_factor"`
	ChallengeToken    string     `json:"challenge_token,omitempty"`
}
