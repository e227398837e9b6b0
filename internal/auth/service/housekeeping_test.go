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
	"github.com/sableauth/sable/pkg/idx"
)

func TestSweepRespectsGraceWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	hk := service.NewHousekeeper(env.store, env.clock, time.Minute, time.Hour)

	now := env.clock.Now()

	mkToken := func(expiresAt time.Time) string {
		hash := cryptox.FingerprintToken(cryptox.MustGenerateToken(cryptox.TokenSize256))
		require.NoError(t, env.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    user.ID,
			TokenHash: hash,
			ExpiresAt: expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		}))
		return hash
	}

	longDead := mkToken(now.Add(-2 * time.Hour))
	justExpired := mkToken(now.Add(-time.Minute))
	alive := mkToken(now.Add(time.Hour))

	require.NoError(t, env.store.TwoFactorChallenges().CreateChallenge(ctx, domain.TwoFactorChallenge{
		ID:        idx.New().String(),
		UserID:    user.ID,
		TokenHash: cryptox.FingerprintToken("challenge"),
		ExpiresAt: now.Add(-2 * time.Hour),
		CreatedAt: now,
	}))
	require.NoError(t, env.store.ExternalAuthStates().CreateState(ctx, domain.ExternalAuthState{
		ID:          idx.New().String(),
		TokenHash:   cryptox.FingerprintToken("state"),
		Provider:    "hub",
		RedirectURI: "https://app.test/callback",
		ExpiresAt:   now.Add(-2 * time.Hour),
		CreatedAt:   now,
	}))

	require.NoError(t, hk.Sweep(ctx))

	// Only rows expired beyond the grace window are gone.
	_, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, longDead)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.store.RefreshTokens().GetRefreshTokenByHash(ctx, justExpired)
	require.NoError(t, err)
	_, err = env.store.RefreshTokens().GetRefreshTokenByHash(ctx, alive)
	require.NoError(t, err)

	_, err = env.store.TwoFactorChallenges().GetChallengeByHash(ctx, cryptox.FingerprintToken("challenge"))
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = env.store.ExternalAuthStates().ConsumeStateByHash(ctx, cryptox.FingerprintToken("state"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepCollectsConsumedRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	hk := service.NewHousekeeper(env.store, env.clock, time.Minute, time.Hour)

	now := env.clock.Now()

	mkConsumed := func(updatedAt time.Time) string {
		hash := cryptox.FingerprintToken(cryptox.MustGenerateToken(cryptox.TokenSize256))
		require.NoError(t, env.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    user.ID,
			TokenHash: hash,
			Used:      true,
			ExpiresAt: now.Add(30 * 24 * time.Hour),
			CreatedAt: now.Add(-3 * time.Hour),
			UpdatedAt: updatedAt,
		}))
		return hash
	}

	// A rotated remember-me token must not sit for its full 30 days.
	staleConsumed := mkConsumed(now.Add(-2 * time.Hour))
	freshConsumed := mkConsumed(now.Add(-time.Minute))

	require.NoError(t, env.store.TwoFactorChallenges().CreateChallenge(ctx, domain.TwoFactorChallenge{
		ID:        idx.New().String(),
		UserID:    user.ID,
		TokenHash: cryptox.FingerprintToken("answered"),
		Used:      true,
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now.Add(-2 * time.Hour),
	}))

	require.NoError(t, hk.Sweep(ctx))

	_, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, staleConsumed)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Recently consumed rows stay so reuse is still detected as a breach.
	_, err = env.store.RefreshTokens().GetRefreshTokenByHash(ctx, freshConsumed)
	require.NoError(t, err)

	_, err = env.store.TwoFactorChallenges().GetChallengeByHash(ctx, cryptox.FingerprintToken("answered"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepDefaultsAreHourly(t *testing.T) {
	require.Equal(t, time.Hour, service.DefaultSweepInterval)
	require.Equal(t, time.Hour, service.DefaultSweepGrace)
}

func TestExpiredButUnsweptStaysExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "hunter2!", domain.RoleUser)
	hk := service.NewHousekeeper(env.store, env.clock, time.Minute, time.Hour)

	result, err := env.sessions.Login(ctx, "alice", "hunter2!", false)
	require.NoError(t, err)

	// Expired but inside the grace window: the row survives the sweep yet
	// rotation still refuses it.
	env.clock.Advance(24*time.Hour + time.Minute)
	require.NoError(t, hk.Sweep(ctx))

	_, err = env.sessions.Refresh(ctx, result.Tokens.RefreshToken)
	require.ErrorIs(t, err, service.ErrTokenExpired)
}
