package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Argon2id parameters, per the OWASP minimum-cost recommendation.
const (
	argonMemory  = 19 * 1024 // KiB
	argonTime    = 2
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

var (
	pepperMu   sync.Mutex
	pepperPath string
	pepperVal  string
)

// SetPepperPath points the package at the file holding the hashing pepper.
// Call it once at startup, before any password is hashed or verified. If the
// file does not exist a fresh pepper is written there on first use.
func SetPepperPath(path string) {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	pepperPath = path
	pepperVal = ""
}

// pepper returns the cached pepper, loading or creating the backing file on
// first use.
func pepper() (string, error) {
	pepperMu.Lock()
	defer pepperMu.Unlock()

	if pepperVal != "" {
		return pepperVal, nil
	}
	if pepperPath == "" {
		return "", fmt.Errorf("cryptox: pepper path not configured")
	}

	path := filepath.Clean(pepperPath)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		pepperVal = string(raw)
		return pepperVal, nil
	case !os.IsNotExist(err):
		return "", fmt.Errorf("cryptox: read pepper: %w", err)
	}

	buf := make([]byte, argonKeyLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: generate pepper: %w", err)
	}
	val := base64.RawURLEncoding.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("cryptox: create pepper dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(val), 0600); err != nil {
		return "", fmt.Errorf("cryptox: write pepper: %w", err)
	}

	pepperVal = val
	return pepperVal, nil
}
