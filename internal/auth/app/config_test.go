package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/internal/auth/app"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigRejectsMalformedDuration(t *testing.T) {
	t.Setenv("SABLE_ACCESS_TOKEN_TTL", "fifteen minutes")

	_, err := app.LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SABLE_ACCESS_TOKEN_TTL")
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("SABLE_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("SABLE_SESSION_REFRESH_TTL", "12h")

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 12*time.Hour, cfg.SessionRefreshTTL)
}

func TestValidateBounds(t *testing.T) {
	base, err := app.LoadConfig()
	require.NoError(t, err)

	cfg := base
	cfg.AccessTokenTTL = 2 * time.Hour
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.SessionRefreshTTL = cfg.PersistentRefreshTTL + time.Hour
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.StampCacheTTL = 10 * time.Minute
	require.Error(t, cfg.Validate())
}
