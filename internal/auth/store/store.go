package store

import (
	"context"
	"errors"
	"time"

	"github.com/sableauth/sable/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrNoRowsAffected reports a conditional write that matched nothing,
	// e.g. consuming a refresh token that another request consumed first.
	ErrNoRowsAffected = errors.New("store: no rows affected")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable.
type Store interface {
	Users() Users
	Roles() Roles
	RefreshTokens() RefreshTokens
	TwoFactorChallenges() TwoFactorChallenges
	RecoveryCodes() RecoveryCodes
	ExternalAuthStates() ExternalAuthStates
	ExternalIdentities() ExternalIdentities

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., refresh
	// rotation). The caller MUST call Commit() or Rollback() on the result.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error, the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used during password login.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user (id and security stamp provided by the app).
	CreateUser(ctx context.Context, u domain.User) error

	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// UpdateSecurityStamp replaces the stamp, invalidating every access token
	// that still carries the old value.
	UpdateSecurityStamp(ctx context.Context, userID string, stamp string) error

	// GetSecurityStamp returns just the current stamp for validation paths.
	GetSecurityStamp(ctx context.Context, userID string) (string, error)

	// GetRoles returns the roles held by a user.
	GetRoles(ctx context.Context, userID string) ([]domain.Role, error)

	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error

	// LockUser sets locked_at. Locked users fail login with a generic error.
	LockUser(ctx context.Context, userID string, at time.Time) error

	// DeleteUser cascades to refresh tokens, challenges and identities.
	DeleteUser(ctx context.Context, userID string) error

	UpdateTwoFactorSecret(ctx context.Context, userID string, secret string) error
	EnableTwoFactor(ctx context.Context, userID string, at time.Time) error
	DisableTwoFactor(ctx context.Context, userID string) error
}

type Roles interface {
	GetRoleByID(ctx context.Context, id string) (domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
	ListAll(ctx context.Context) ([]domain.Role, error)
	CreateRole(ctx context.Context, r domain.Role) error
	DeleteRole(ctx context.Context, roleID string) error

	// GetPermissionsForRoles unions the permission claims attached to the
	// named roles, deduplicated. The super role is not resolved here.
	GetPermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error)

	// SetRolePermissions replaces the permission claims for a role.
	SetRolePermissions(ctx context.Context, roleID string, permissions []string) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the row by token fingerprint, regardless
	// of used/invalidated state. Rotation needs to see consumed rows to
	// detect reuse.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// ConsumeRefreshToken atomically flips used=1 on an unused,
	// non-invalidated row. Returns ErrNoRowsAffected when the row was
	// already consumed or invalidated; exactly one concurrent caller wins.
	ConsumeRefreshToken(ctx context.Context, hash string, at time.Time) error

	// InvalidateRefreshToken flips invalidated=1 (idempotent).
	InvalidateRefreshToken(ctx context.Context, hash string, at time.Time) error

	// InvalidateAllUserRefreshTokens is the breach cascade: every live token
	// for the user dies.
	InvalidateAllUserRefreshTokens(ctx context.Context, userID string, at time.Time) error

	// DeleteExpiredRefreshTokens sweeps rows that expired before cutoff,
	// plus consumed rows whose last write is older than cutoff. Consumed
	// remember-me rows would otherwise sit until their full expiry.
	DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) error
}

type TwoFactorChallenges interface {
	CreateChallenge(ctx context.Context, c domain.TwoFactorChallenge) error

	// GetChallengeByHash returns the row by token fingerprint regardless of
	// state; callers decide how expired/used/locked rows are reported.
	GetChallengeByHash(ctx context.Context, hash string) (domain.TwoFactorChallenge, error)

	// IncrementFailedAttempts atomically bumps the counter and returns the
	// new value, so the lockout threshold is exact under concurrent guesses.
	IncrementFailedAttempts(ctx context.Context, hash string) (int, error)

	// ConsumeChallenge atomically flips used=1 on an unused row. Returns
	// ErrNoRowsAffected if it was already consumed.
	ConsumeChallenge(ctx context.Context, hash string) error

	// DeleteExpiredChallenges sweeps rows that expired before cutoff, plus
	// consumed rows created before cutoff.
	DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) error
}

type RecoveryCodes interface {
	CreateRecoveryCode(ctx context.Context, userID string, codeHash string) error

	// ConsumeRecoveryCode deletes the code if present and reports whether it
	// existed. Single use: the set only shrinks until regenerated.
	ConsumeRecoveryCode(ctx context.Context, userID string, codeHash string) (bool, error)

	DeleteAllRecoveryCodes(ctx context.Context, userID string) error
	CountRecoveryCodes(ctx context.Context, userID string) (int, error)
}

type ExternalAuthStates interface {
	CreateState(ctx context.Context, s domain.ExternalAuthState) error

	// ConsumeStateByHash atomically marks the row used and returns it.
	// Already-used or absent rows return ErrNotFound; expiry is checked by
	// the caller against the injected clock.
	ConsumeStateByHash(ctx context.Context, hash string) (domain.ExternalAuthState, error)

	DeleteExpiredStates(ctx context.Context, cutoff time.Time) error
}

type ExternalIdentities interface {
	CreateIdentity(ctx context.Context, id domain.ExternalIdentity) error

	// GetIdentity looks up a mapping by provider-side identity.
	GetIdentity(ctx context.Context, provider, providerUserID string) (domain.ExternalIdentity, error)

	ListIdentitiesForUser(ctx context.Context, userID string) ([]domain.ExternalIdentity, error)
	DeleteIdentity(ctx context.Context, userID, provider string) error
	CountIdentitiesForUser(ctx context.Context, userID string) (int, error)
}
