package jwtx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/pkg/jwtx"
)

func TestSignAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	signer, err := jwtx.GenerateSigner("k1")
	require.NoError(t, err)
	verifier := jwtx.NewVerifier("sable-test")
	verifier.AddSigner(signer)

	claims := jwtx.NewAccessClaims("user-1", []string{"admin"}, []string{"users:read"},
		"stamp-a", 15*time.Minute, "sable-test", "alice", now)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	parsed, err := verifier.Verify(token, now)
	require.NoError(t, err)
	require.Equal(t, "user-1", parsed.Subject)
	require.Equal(t, "alice", parsed.Username)
	require.Equal(t, []string{"admin"}, parsed.Roles)
	require.Equal(t, "stamp-a", parsed.SecurityStamp)
	require.True(t, parsed.HasPermission("users:read"))
	require.False(t, parsed.HasPermission("users:write"))
}

func TestVerifyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	signer, err := jwtx.GenerateSigner("k1")
	require.NoError(t, err)
	verifier := jwtx.NewVerifier("sable-test")
	verifier.AddSigner(signer)

	claims := jwtx.NewAccessClaims("user-1", nil, nil, "s", 15*time.Minute, "sable-test", "alice", now)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	// Expiry is judged against the caller's clock, not the wall clock.
	_, err = verifier.Verify(token, now.Add(14*time.Minute))
	require.NoError(t, err)

	_, err = verifier.Verify(token, now.Add(16*time.Minute))
	require.ErrorIs(t, err, jwtx.ErrExpired)

	_, err = verifier.Verify(token, now.Add(-time.Minute))
	require.ErrorIs(t, err, jwtx.ErrNotYetValid)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	signer, err := jwtx.GenerateSigner("k1")
	require.NoError(t, err)
	verifier := jwtx.NewVerifier("expected-issuer")
	verifier.AddSigner(signer)

	claims := jwtx.NewAccessClaims("user-1", nil, nil, "s", time.Minute, "other-issuer", "alice", now)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = verifier.Verify(token, now)
	require.ErrorIs(t, err, jwtx.ErrIssuer)
}

func TestVerifyUnknownKID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	signer, err := jwtx.GenerateSigner("rotated-away")
	require.NoError(t, err)
	verifier := jwtx.NewVerifier("sable-test")

	claims := jwtx.NewAccessClaims("user-1", nil, nil, "s", time.Minute, "sable-test", "alice", now)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = verifier.Verify(token, now)
	require.Error(t, err)
}

func TestVerifyTamperedToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	signer, err := jwtx.GenerateSigner("k1")
	require.NoError(t, err)
	other, err := jwtx.GenerateSigner("k1")
	require.NoError(t, err)

	// Verifier holds a different key under the same kid.
	verifier := jwtx.NewVerifier("sable-test")
	verifier.AddSigner(other)

	claims := jwtx.NewAccessClaims("user-1", nil, nil, "s", time.Minute, "sable-test", "alice", now)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = verifier.Verify(token, now)
	require.ErrorIs(t, err, jwtx.ErrMalformed)
}
