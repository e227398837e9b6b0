package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/service"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/cryptox"
)

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.sessions.Login(ctx, "nobody", "hunter2!", false)
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.sessions.Login(ctx, "alice", "wrong", false)
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("locked account", func(t *testing.T) {
		locked := env.createUser(t, "bob", "hunter2!", domain.RoleUser)
		require.NoError(t, env.store.Users().LockUser(ctx, locked.ID, env.clock.Now()))

		_, err := env.sessions.Login(ctx, "bob", "hunter2!", false)
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("passwordless account", func(t *testing.T) {
		env.createUser(t, "extern", "", domain.RoleUser)

		_, err := env.sessions.Login(ctx, "extern", "", false)
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})
}

func TestLoginIssuesTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	result, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)
	require.False(t, result.RequiresTwoFactor)
	require.NotNil(t, result.Tokens)
	require.Equal(t, "Bearer", result.Tokens.TokenType)
	require.Equal(t, int64(900), result.Tokens.ExpiresIn)

	claims, err := env.verifier.Verify(result.Tokens.AccessToken, env.clock.Now())
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, []string{domain.RoleUser}, claims.Roles)
	require.ElementsMatch(t, []string{domain.PermSelfRead, domain.PermSelfWrite}, claims.Permissions)
	require.Equal(t, user.SecurityStamp, claims.SecurityStamp)
}

func TestLoginRequiresSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	env.enableTOTP(t, user.ID)

	result, err := env.sessions.Login(ctx, "alice", "hunter2!", true)
	require.NoError(t, err)
	require.True(t, result.RequiresTwoFactor)
	require.NotEmpty(t, result.ChallengeToken)
	require.Nil(t, result.Tokens)
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	result, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)
	first := result.Tokens.RefreshToken

	second, err := env.sessions.Refresh(ctx, first)
	require.NoError(t, err)
	require.NotEqual(t, first, second.RefreshToken)
	require.NotEmpty(t, second.AccessToken)

	// The rotated-out token row is flipped to used, not deleted.
	row, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(first))
	require.NoError(t, err)
	require.True(t, row.Used)
	require.False(t, row.Invalidated)
}

func TestRefreshReuseTriggersBreachCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	// Two independent sessions plus the one we will rotate.
	other1, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)
	other2, err := env.sessions.Login(ctx, "alice", "hunter2!", true)
	require.NoError(t, err)
	victim, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)

	rotated, err := env.sessions.Refresh(ctx, victim.Tokens.RefreshToken)
	require.NoError(t, err)

	stampBefore, err := env.store.Users().GetSecurityStamp(ctx, user.ID)
	require.NoError(t, err)

	// Replaying the consumed token fails and revokes everything.
	_, err = env.sessions.Refresh(ctx, victim.Tokens.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)

	for _, tok := range []string{
		rotated.RefreshToken,
		other1.Tokens.RefreshToken,
		other2.Tokens.RefreshToken,
	} {
		_, err := env.sessions.Refresh(ctx, tok)
		require.ErrorIs(t, err, service.ErrInvalidToken)
	}

	stampAfter, err := env.store.Users().GetSecurityStamp(ctx, user.ID)
	require.NoError(t, err)
	require.NotEqual(t, stampBefore, stampAfter)
}

func TestRefreshConsumeIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	result, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)
	hash := cryptox.FingerprintToken(result.Tokens.RefreshToken)

	require.NoError(t, env.store.RefreshTokens().ConsumeRefreshToken(ctx, hash, env.clock.Now()))
	err = env.store.RefreshTokens().ConsumeRefreshToken(ctx, hash, env.clock.Now())
	require.ErrorIs(t, err, store.ErrNoRowsAffected)
}

func TestRefreshExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	result, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)

	env.clock.Advance(24*time.Hour + time.Minute)

	_, err = env.sessions.Refresh(ctx, result.Tokens.RefreshToken)
	require.ErrorIs(t, err, service.ErrTokenExpired)

	// The expired row is retired, not left answering forever.
	row, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
		cryptox.FingerprintToken(result.Tokens.RefreshToken))
	require.NoError(t, err)
	require.True(t, row.Invalidated)

	_, err = env.sessions.Refresh(ctx, result.Tokens.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestRememberMeSelectsLifetime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	session, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)
	persistent, err := env.sessions.Login(ctx, "alice", "hunter2!", true)
	require.NoError(t, err)

	sessionRow, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
		cryptox.FingerprintToken(session.Tokens.RefreshToken))
	require.NoError(t, err)
	persistentRow, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
		cryptox.FingerprintToken(persistent.Tokens.RefreshToken))
	require.NoError(t, err)

	now := env.clock.Now()
	require.WithinDuration(t, now.Add(24*time.Hour), sessionRow.ExpiresAt, time.Second)
	require.WithinDuration(t, now.Add(30*24*time.Hour), persistentRow.ExpiresAt, time.Second)

	// Rotation re-applies the original grant's policy.
	rotated, err := env.sessions.Refresh(ctx, persistent.Tokens.RefreshToken)
	require.NoError(t, err)
	rotatedRow, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
		cryptox.FingerprintToken(rotated.RefreshToken))
	require.NoError(t, err)
	require.True(t, rotatedRow.RememberMe)
	require.WithinDuration(t, now.Add(30*24*time.Hour), rotatedRow.ExpiresAt, time.Second)
}

func TestRefreshUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sessions.Refresh(context.Background(), "never-issued")
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	result, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)

	require.NoError(t, env.sessions.Logout(ctx, result.Tokens.RefreshToken))

	_, err = env.sessions.Refresh(ctx, result.Tokens.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)

	// Idempotent, including for tokens that never existed.
	require.NoError(t, env.sessions.Logout(ctx, result.Tokens.RefreshToken))
	require.NoError(t, env.sessions.Logout(ctx, "never-issued"))
}

func TestRevokeAllSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)

	a, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)
	b, err := env.sessions.Login(ctx, "alice", "hunter2!", true)
	require.NoError(t, err)

	stampBefore := user.SecurityStamp
	require.NoError(t, env.sessions.RevokeAllSessions(ctx, user.ID))

	_, err = env.sessions.Refresh(ctx, a.Tokens.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)
	_, err = env.sessions.Refresh(ctx, b.Tokens.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)

	stampAfter, err := env.store.Users().GetSecurityStamp(ctx, user.ID)
	require.NoError(t, err)
	require.NotEqual(t, stampBefore, stampAfter)
}

func TestSuperRoleGetsFullPermissionSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "root", "hunter2!", domain.RoleSuper)

	result, err := env.sessions.Login(ctx, "root", "hunter2!", false)
	require.NoError(t, err)

	claims, err := env.verifier.Verify(result.Tokens.AccessToken, env.clock.Now())
	require.NoError(t, err)
	require.ElementsMatch(t, domain.AllPermissions(), claims.Permissions)
}
