package service_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/service"
)

type fakeProvider struct {
	name string
	user domain.ExternalUser
	err  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, _ string) (domain.ExternalUser, error) {
	return p.user, p.err
}

func newExternal(env *testEnv, providers ...service.IdentityProvider) *service.ExternalService {
	return service.NewExternalService(service.ExternalServiceParams{
		Store:     env.store,
		Providers: providers,
		Sessions:  env.sessions,
		Clock:     env.clock,
		Config:    testConfig(),
	})
}

// stateFrom pulls the plaintext state token back out of the authorization
// URL.
func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

const redirect = "https://app.test/callback"

func TestExternalChallengeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext := newExternal(env, &fakeProvider{name: "hub"})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := ext.CreateChallenge(ctx, "nope", redirect, nil)
		require.ErrorIs(t, err, service.ErrUnknownProvider)
	})

	t.Run("redirect not whitelisted", func(t *testing.T) {
		_, err := ext.CreateChallenge(ctx, "hub", "https://evil.test/cb", nil)
		require.ErrorIs(t, err, service.ErrRedirectURINotAllowed)

		_, err = ext.CreateChallenge(ctx, "hub", "", nil)
		require.ErrorIs(t, err, service.ErrRedirectURINotAllowed)
	})

	t.Run("state embedded in url, only hash stored", func(t *testing.T) {
		authURL, err := ext.CreateChallenge(ctx, "hub", redirect, nil)
		require.NoError(t, err)
		state := stateFrom(t, authURL)
		require.True(t, strings.HasPrefix(authURL, "https://provider.test/authorize"))
		require.NotEmpty(t, state)
	})
}

func TestExternalCallbackNewUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "Alice", Email: "alice@hub.test"},
	})

	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, nil)
	require.NoError(t, err)

	outcome, redirectURI, err := ext.HandleCallback(ctx, stateFrom(t, authURL), "code123")
	require.NoError(t, err)
	require.Equal(t, redirect, redirectURI)
	require.True(t, outcome.IsNewUser)
	require.False(t, outcome.IsLinkOnly)
	require.NotNil(t, outcome.Login)
	require.NotNil(t, outcome.Login.Tokens)

	// The provisioned account is passwordless, holds the user role and the
	// identity mapping.
	user, err := env.store.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.False(t, user.HasPassword())

	roles, err := env.store.Users().GetRoles(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, domain.RoleUser, roles[0].Name)

	identity, err := env.store.ExternalIdentities().GetIdentity(ctx, "hub", "999")
	require.NoError(t, err)
	require.Equal(t, user.ID, identity.UserID)
}

func TestExternalCallbackExistingUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "alice"},
	})

	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, nil)
	require.NoError(t, err)
	first, _, err := ext.HandleCallback(ctx, stateFrom(t, authURL), "c1")
	require.NoError(t, err)
	require.True(t, first.IsNewUser)

	authURL, err = ext.CreateChallenge(ctx, "hub", redirect, nil)
	require.NoError(t, err)
	second, _, err := ext.HandleCallback(ctx, stateFrom(t, authURL), "c2")
	require.NoError(t, err)
	require.False(t, second.IsNewUser)
	require.NotNil(t, second.Login.Tokens)
}

func TestExternalCallbackTwoFactorGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	secret := env.enableTOTP(t, user.ID)
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "alice"},
	})

	require.NoError(t, env.store.ExternalIdentities().CreateIdentity(ctx, domain.ExternalIdentity{
		UserID:         user.ID,
		Provider:       "hub",
		ProviderUserID: "999",
		CreatedAt:      env.clock.Now(),
	}))

	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, nil)
	require.NoError(t, err)
	outcome, _, err := ext.HandleCallback(ctx, stateFrom(t, authURL), "c1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Login)
	require.True(t, outcome.Login.RequiresTwoFactor)
	require.Nil(t, outcome.Login.Tokens)

	// The challenge completes like any password-initiated one.
	pair, err := env.twofactor.VerifyCode(ctx, outcome.Login.ChallengeToken, env.totpCode(t, secret))
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
}

func TestExternalStateSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "alice"},
	})

	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, nil)
	require.NoError(t, err)
	state := stateFrom(t, authURL)

	_, _, err = ext.HandleCallback(ctx, state, "c1")
	require.NoError(t, err)

	_, _, err = ext.HandleCallback(ctx, state, "c1")
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, _, err = ext.HandleCallback(ctx, "forged-state", "c1")
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestExternalStateExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "alice"},
	})

	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, nil)
	require.NoError(t, err)

	env.clock.Advance(10*time.Minute + time.Second)

	_, _, err = ext.HandleCallback(ctx, stateFrom(t, authURL), "c1")
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestExternalLinkFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "alice-on-hub"},
	})

	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, &user.ID)
	require.NoError(t, err)

	outcome, _, err := ext.HandleCallback(ctx, stateFrom(t, authURL), "c1")
	require.NoError(t, err)
	require.True(t, outcome.IsLinkOnly)
	require.Nil(t, outcome.Login)

	identities, err := ext.ListIdentities(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, identities, 1)
	require.Equal(t, "hub", identities[0].Provider)
	require.Equal(t, "alice-on-hub", identities[0].ProviderUsername)
}

func TestExternalLinkConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	intruder := env.createUser(t, "bob", "hunter2!", domain.RoleUser)
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "alice-on-hub"},
	})

	require.NoError(t, env.store.ExternalIdentities().CreateIdentity(ctx, domain.ExternalIdentity{
		UserID:         owner.ID,
		Provider:       "hub",
		ProviderUserID: "999",
		CreatedAt:      env.clock.Now(),
	}))

	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, &intruder.ID)
	require.NoError(t, err)
	_, _, err = ext.HandleCallback(ctx, stateFrom(t, authURL), "c1")
	require.ErrorIs(t, err, service.ErrIdentityAlreadyLinked)

	// Relinking your own identity is a no-op, not a conflict.
	authURL, err = ext.CreateChallenge(ctx, "hub", redirect, &owner.ID)
	require.NoError(t, err)
	outcome, _, err := ext.HandleCallback(ctx, stateFrom(t, authURL), "c1")
	require.NoError(t, err)
	require.True(t, outcome.IsLinkOnly)
}

func TestUnlinkProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	ext := newExternal(env, &fakeProvider{name: "hub"})

	require.NoError(t, env.store.ExternalIdentities().CreateIdentity(ctx, domain.ExternalIdentity{
		UserID:         user.ID,
		Provider:       "hub",
		ProviderUserID: "999",
		CreatedAt:      env.clock.Now(),
	}))

	stampBefore := user.SecurityStamp
	require.NoError(t, ext.UnlinkProvider(ctx, user.ID, "hub"))

	stampAfter, err := env.store.Users().GetSecurityStamp(ctx, user.ID)
	require.NoError(t, err)
	require.NotEqual(t, stampBefore, stampAfter)

	require.ErrorIs(t, ext.UnlinkProvider(ctx, user.ID, "hub"), service.ErrIdentityNotFound)
}

func TestUnlinkLastAuthMethod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext := newExternal(env, &fakeProvider{
		name: "hub",
		user: domain.ExternalUser{ID: "999", Username: "alice"},
	})

	// Provision a passwordless account through the provider.
	authURL, err := ext.CreateChallenge(ctx, "hub", redirect, nil)
	require.NoError(t, err)
	outcome, _, err := ext.HandleCallback(ctx, stateFrom(t, authURL), "c1")
	require.NoError(t, err)
	require.True(t, outcome.IsNewUser)

	user, err := env.store.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)

	err = ext.UnlinkProvider(ctx, user.ID, "hub")
	require.ErrorIs(t, err, service.ErrLastAuthMethod)

	// Still linked.
	identities, err := ext.ListIdentities(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, identities, 1)
}
