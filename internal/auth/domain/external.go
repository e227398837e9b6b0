package domain

import "time"

// ExternalAuthState is the CSRF state row for the OAuth2 authorization-code
// flow. Only the hash of the state value is stored; the plaintext leaves the
// service exactly once, embedded in the authorization URL.
type ExternalAuthState struct {
	ID          string
	TokenHash   string
	Provider    string
	RedirectURI string
	UserID      *string // set only for link flows started by an authenticated caller
	Used        bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// ExternalIdentity maps a provider-side account onto a local user. One row
// per (user, provider) pair.
type ExternalIdentity struct {
	UserID           string
	Provider         string
	ProviderUserID   string
	ProviderUsername string
	CreatedAt        time.Time
}

// ExternalUser is the identity a provider reports back during the callback.
type ExternalUser struct {
	ID       string // provider-side stable identifier
	Username string
	Email    string
}

// CallbackOutcome is the trichotomy of the external callback: link-only for
// authenticated link requests, a login (possibly pending 2FA) for known
// identities, or a freshly created passwordless account.
type CallbackOutcome struct {
	Login      *LoginResult `json:"login,omitempty"`
	IsLinkOnly bool         `json:"is_link_only"`
	IsNewUser  bool         `json:"is_new_user"`
	Provider   string       `json:"provider"`
}
