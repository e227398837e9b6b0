package service

import "errors"

// Service-level sentinel errors. HTTP handlers map these onto status codes;
// anything not listed here surfaces as an internal error. Credential-path
// errors are deliberately coarse so responses don't leak which part of the
// credential was wrong.
var (
	// ErrInvalidCredentials covers bad username, bad password and locked
	// accounts alike.
	ErrInvalidCredentials = errors.New("service: invalid credentials")

	// ErrInvalidToken covers unknown, invalidated and malformed refresh
	// tokens, including reuse of an already-rotated token.
	ErrInvalidToken = errors.New("service: invalid token")

	// ErrTokenExpired reports a refresh token past its expiry.
	ErrTokenExpired = errors.New("service: token expired")

	// ErrChallengeNotFound covers unknown, expired and consumed 2FA
	// challenges.
	ErrChallengeNotFound = errors.New("service: challenge not found")

	// ErrChallengeLocked reports a challenge that burned through its failed
	// attempt budget.
	ErrChallengeLocked = errors.New("service: challenge locked")

	// ErrInvalidCode reports a wrong TOTP or recovery code.
	ErrInvalidCode = errors.New("service: invalid code")

	ErrTwoFactorNotEnabled     = errors.New("service: two-factor not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("service: two-factor already enabled")
	ErrTwoFactorSetupPending   = errors.New("service: two-factor setup not started")

	// ErrUnknownProvider reports an external provider name with no
	// configured integration.
	ErrUnknownProvider = errors.New("service: unknown provider")

	// ErrInvalidState covers unknown, expired and consumed OAuth2 state
	// tokens.
	ErrInvalidState = errors.New("service: invalid state")

	// ErrRedirectURINotAllowed reports a redirect target outside the
	// configured whitelist.
	ErrRedirectURINotAllowed = errors.New("service: redirect uri not allowed")

	// ErrIdentityAlreadyLinked reports a provider identity already bound to
	// a different local account.
	ErrIdentityAlreadyLinked = errors.New("service: identity already linked")

	// ErrIdentityNotFound reports an unlink of a provider that isn't linked.
	ErrIdentityNotFound = errors.New("service: identity not found")

	// ErrLastAuthMethod blocks unlinking the only way into a passwordless
	// account.
	ErrLastAuthMethod = errors.New("service: cannot remove last authentication method")

	// ErrInsufficientRank reports an administrative action against a target
	// of equal or higher rank.
	ErrInsufficientRank = errors.New("service: insufficient rank")

	// ErrSelfActionForbidden blocks administrative actions against the
	// caller's own account.
	ErrSelfActionForbidden = errors.New("service: action on own account forbidden")

	// ErrUnknownPermission reports a permission name outside the
	// compile-time universe.
	ErrUnknownPermission = errors.New("service: unknown permission")

	ErrRoleNotFound = errors.New("service: role not found")
	ErrUserNotFound = errors.New("service: user not found")
)
