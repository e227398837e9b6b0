package cryptox_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/pkg/cryptox"
)

func TestHashAndVerifyPassword(t *testing.T) {
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	hash, err := cryptox.HashPassword("hunter2!")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	require.NoError(t, cryptox.VerifyPassword("hunter2!", hash))
	require.ErrorIs(t, cryptox.VerifyPassword("hunter3!", hash), cryptox.ErrPasswordMismatch)
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	a, err := cryptox.HashPassword("same input")
	require.NoError(t, err)
	b, err := cryptox.HashPassword("same input")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	for _, encoded := range []string{
		"",
		"plainly not a hash",
		"$argon2i$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=19456,t=2,p=1$!!!$aGFzaA",
	} {
		err := cryptox.VerifyPassword("pw", encoded)
		require.Error(t, err, encoded)
		require.NotErrorIs(t, err, cryptox.ErrPasswordMismatch, encoded)
	}
}

func TestPepperPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pepper")

	cryptox.SetPepperPath(path)
	hash, err := cryptox.HashPassword("hunter2!")
	require.NoError(t, err)

	// Re-pointing at the same file simulates a process restart; the stored
	// pepper must still verify old hashes.
	cryptox.SetPepperPath(path)
	require.NoError(t, cryptox.VerifyPassword("hunter2!", hash))

	// A different pepper file makes every old hash unverifiable.
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "other"))
	require.ErrorIs(t, cryptox.VerifyPassword("hunter2!", hash), cryptox.ErrPasswordMismatch)
}
