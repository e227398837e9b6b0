package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sableauth/sable/pkg/jwtx"
	"github.com/sableauth/sable/pkg/slogx"
)

// StampValidator checks the security-stamp claim against the current stamp
// on the user record. A stamp rotation (password change, forced revocation,
// role change) invalidates every token minted under the old value, well
// before natural expiry.
type StampValidator interface {
	ValidateSecurityStamp(ctx context.Context, userID, stamp string) error
}

// AuthnMiddleware verifies the bearer token and, when a StampValidator is
// provided, rejects tokens whose stamp claim no longer matches.
func AuthnMiddleware(v *jwtx.Verifier, stamps StampValidator, now func() time.Time) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

			claims, err := v.Verify(raw, now())
			if err != nil {
				writeBearerError(w, "token verification failed")
				log.Warn("jwt verify failed", "err", err)
				return
			}

			if stamps != nil {
				if err := stamps.ValidateSecurityStamp(ctx, claims.Subject, claims.SecurityStamp); err != nil {
					writeBearerError(w, "token revoked")
					log.Info("security stamp mismatch", "sub", claims.Subject)
					return
				}
			}

			// Inject into context for downstream handlers.
			ctx = contextWithAuth(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithAuth(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyPermissions, c.Permissions)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	return ctx
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
