package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/service"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/internal/auth/store/drivers/sqlite"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/cryptox"
	"github.com/sableauth/sable/pkg/idx"
	"github.com/sableauth/sable/pkg/jwtx"
)

var pepperOnce sync.Once

func initPepper(t *testing.T) {
	t.Helper()
	pepperOnce.Do(func() {
		cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))
	})
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testConfig() service.Config {
	return service.Config{
		Issuer:               "sable-test",
		AccessTokenTTL:       15 * time.Minute,
		PersistentRefreshTTL: 30 * 24 * time.Hour,
		SessionRefreshTTL:    24 * time.Hour,
		ChallengeTTL:         5 * time.Minute,
		StateTTL:             10 * time.Minute,
		AllowedRedirectURIs:  []string{"https://app.test/callback"},
	}
}

type testEnv struct {
	store     store.Store
	clock     *clockx.Fake
	signer    *jwtx.Signer
	verifier  *jwtx.Verifier
	sessions  *service.SessionService
	twofactor *service.TwoFactorService
	admin     *service.AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	initPepper(t)

	st := newTestStore(t)
	clock := clockx.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	signer, err := jwtx.GenerateSigner("test")
	require.NoError(t, err)
	verifier := jwtx.NewVerifier("sable-test")
	verifier.AddSigner(signer)

	cfg := testConfig()
	sessions := service.NewSessionService(service.SessionServiceParams{
		Store:       st,
		Signer:      signer,
		Permissions: st.Roles(),
		Clock:       clock,
		Config:      cfg,
	})
	twofactor := service.NewTwoFactorService(service.TwoFactorServiceParams{
		Store:    st,
		Sessions: sessions,
		Clock:    clock,
		Config:   cfg,
	})
	admin := service.NewAdminService(service.AdminServiceParams{
		Store: st,
		Clock: clock,
	})

	return &testEnv{
		store:     st,
		clock:     clock,
		signer:    signer,
		verifier:  verifier,
		sessions:  sessions,
		twofactor: twofactor,
		admin:     admin,
	}
}

// createUser inserts a password user holding the given built-in roles.
func (e *testEnv) createUser(t *testing.T, username, password string, roles ...string) domain.User {
	t.Helper()
	ctx := context.Background()

	hash := ""
	if password != "" {
		var err error
		hash, err = cryptox.HashPassword(password)
		require.NoError(t, err)
	}

	now := e.clock.Now()
	user := domain.User{
		ID:            idx.New().String(),
		Username:      username,
		Email:         username + "@example.test",
		PasswordHash:  hash,
		SecurityStamp: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, e.store.Users().CreateUser(ctx, user))

	for _, roleName := range roles {
		role, err := e.store.Roles().GetRoleByName(ctx, roleName)
		require.NoError(t, err)
		require.NoError(t, e.store.Users().AddRole(ctx, user.ID, role.ID))
	}
	return user
}

// enableTOTP flips a user to verified 2FA and returns the shared secret.
func (e *testEnv) enableTOTP(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "sable-test", AccountName: userID})
	require.NoError(t, err)
	require.NoError(t, e.store.Users().UpdateTwoFactorSecret(ctx, userID, key.Secret()))
	require.NoError(t, e.store.Users().EnableTwoFactor(ctx, userID, e.clock.Now()))
	return key.Secret()
}

// totpCode computes the code valid at the fake clock's current time.
func (e *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, e.clock.Now().UTC())
	require.NoError(t, err)
	return code
}
