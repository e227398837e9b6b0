package cryptox_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/pkg/cryptox"
)

func TestGenerateToken(t *testing.T) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	require.Len(t, raw, cryptox.TokenSize256)

	other, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.NotEqual(t, token, other)
}

func TestGenerateTokenRejectsNonPositiveSize(t *testing.T) {
	_, err := cryptox.GenerateToken(0)
	require.Error(t, err)
	_, err = cryptox.GenerateToken(-1)
	require.Error(t, err)
}

func TestFingerprintToken(t *testing.T) {
	fp := cryptox.FingerprintToken("some-token")
	require.Equal(t, fp, cryptox.FingerprintToken("some-token"))
	require.NotEqual(t, fp, cryptox.FingerprintToken("some-other-token"))

	// SHA-256 output, so 32 bytes regardless of input length.
	raw, err := base64.RawURLEncoding.DecodeString(fp)
	require.NoError(t, err)
	require.Len(t, raw, 32)
}
