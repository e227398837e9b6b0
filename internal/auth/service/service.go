// Package service implements the authentication business logic on top of the
// store: password and external login, refresh rotation with reuse detection,
// the 2FA challenge lifecycle and rank-guarded administration.
package service

import (
	"context"
	"time"
)

// Default lifetime policy. Config.Validate in the app layer keeps overrides
// inside sane bounds.
const (
	DefaultPersistentRefreshTTL = 30 * 24 * time.Hour
	DefaultSessionRefreshTTL    = 24 * time.Hour
	DefaultChallengeTTL         = 5 * time.Minute
	DefaultStateTTL             = 10 * time.Minute
)

// Config carries the tunables shared by the services.
type Config struct {
	// Issuer is the iss claim on access tokens and the TOTP issuer label.
	Issuer string

	// AccessTokenTTL is the access-token lifetime.
	AccessTokenTTL time.Duration

	// PersistentRefreshTTL applies to remember-me refresh tokens,
	// SessionRefreshTTL to the rest. Rotation re-applies the policy of the
	// original grant.
	PersistentRefreshTTL time.Duration
	SessionRefreshTTL    time.Duration

	// ChallengeTTL bounds how long a 2FA challenge stays answerable.
	ChallengeTTL time.Duration

	// StateTTL bounds the OAuth2 state token round trip.
	StateTTL time.Duration

	// AllowedRedirectURIs is the exact-match whitelist for external flow
	// redirect targets.
	AllowedRedirectURIs []string
}

func (c Config) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		if c.PersistentRefreshTTL > 0 {
			return c.PersistentRefreshTTL
		}
		return DefaultPersistentRefreshTTL
	}
	if c.SessionRefreshTTL > 0 {
		return c.SessionRefreshTTL
	}
	return DefaultSessionRefreshTTL
}

func (c Config) challengeTTL() time.Duration {
	if c.ChallengeTTL > 0 {
		return c.ChallengeTTL
	}
	return DefaultChallengeTTL
}

func (c Config) stateTTL() time.Duration {
	if c.StateTTL > 0 {
		return c.StateTTL
	}
	return DefaultStateTTL
}

// PermissionResolver resolves the effective permission claims for a role
// set. In production this is the Redis read-through cache; tests use the
// store directly.
type PermissionResolver interface {
	GetPermissionsForRoles(ctx context.Context, roles []string) ([]string, error)
}

// StampInvalidator drops a user's cached security stamp after rotation so
// revocation is immediate.
type StampInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// noopStampInvalidator is used when no cache is wired.
type noopStampInvalidator struct{}

func (noopStampInvalidator) Invalidate(context.Context, string) {}
