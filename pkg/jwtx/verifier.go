package jwtx

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Verifier validates EdDSA-signed tokens against a set of public keys keyed
// by kid. Thread-safe; keys can be added during a rollover.
type Verifier struct {
	mu     sync.RWMutex
	keys   map[string]ed25519.PublicKey
	issuer string
}

// NewVerifier creates a verifier expecting the given issuer.
func NewVerifier(issuer string) *Verifier {
	return &Verifier{
		keys:   make(map[string]ed25519.PublicKey),
		issuer: issuer,
	}
}

// AddSigner registers a signer's public key for verification.
func (v *Verifier) AddSigner(s *Signer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[s.KID()] = s.Public()
}

// Verify validates the JWT string and returns its parsed claims. Expiry is
// validated against now so callers control the clock.
func (v *Verifier) Verify(tokenStr string, now time.Time) (Claims, error) {
	// Claims validation is done explicitly below against the caller's clock,
	// so the parser only checks structure and signature.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("jwtx: missing kid")
		}

		v.mu.RLock()
		pub, ok := v.keys[kid]
		v.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(now); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}
