package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Byte lengths for GenerateToken.
const (
	TokenSize128 = 16 // short-lived tokens, CSRF state
	TokenSize256 = 32 // refresh tokens, challenge tokens
	TokenSize512 = 64
)

// GenerateToken returns size bytes of CSPRNG output as an unpadded base64url
// string.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("cryptox: token size %d", size)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustGenerateToken panics if the system entropy source fails, which is not a
// condition the caller can recover from.
func MustGenerateToken(size int) string {
	token, err := GenerateToken(size)
	if err != nil {
		panic(err)
	}
	return token
}

// FingerprintToken maps a token to its SHA-256 digest, base64url encoded.
// Persisting only the fingerprint lets the store look tokens up by equality
// without ever holding the secret itself.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
