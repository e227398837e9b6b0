package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants. These provide sensible security defaults but
// can be overridden per-service.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Short-lived for security - typical range is 5m to 1h.
	DefaultAccessTokenTTL = 15 * time.Minute
)

// Claims are the access-token claims. Validity is determined entirely by
// signature and expiry; the stamp claim additionally lets a server-side
// stamp rotation kill the token before its natural expiry.
type Claims struct {
	jwt.RegisteredClaims

	// Roles held by the subject at issuance.
	Roles []string `json:"roles,omitempty"`

	// Permissions resolved from those roles at issuance.
	Permissions []string `json:"perms,omitempty"`

	// SecurityStamp is the stamp value on the user record when the token was
	// minted. Compared against the current stamp on validation.
	SecurityStamp string `json:"stamp,omitempty"`

	// Username for the authenticated user.
	Username string `json:"username,omitempty"`
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(
	subject string,
	roles, permissions []string,
	securityStamp string,
	ttl time.Duration,
	issuer string,
	username string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Roles:         roles,
		Permissions:   permissions,
		SecurityStamp: securityStamp,
		Username:      username,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// HasPermission reports whether the token carries the given permission claim.
func (c *Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
