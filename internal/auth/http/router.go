// Package http exposes the authentication service over HTTP/JSON.
package http

import (
	"net/http"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/service"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/httpx"
	"github.com/sableauth/sable/pkg/jwtx"
)

// Handler bundles the HTTP endpoints over the services.
type Handler struct {
	sessions  *service.SessionService
	twofactor *service.TwoFactorService
	external  *service.ExternalService
	admin     *service.AdminService

	verifier *jwtx.Verifier
	stamps   httpx.StampValidator
	store    store.Store
	clock    clockx.Clock

	// readyChecks run on /readyz in addition to the store ping.
	readyChecks []func() error
}

type HandlerParams struct {
	Sessions  *service.SessionService
	TwoFactor *service.TwoFactorService
	External  *service.ExternalService
	Admin     *service.AdminService

	Verifier *jwtx.Verifier
	Stamps   httpx.StampValidator
	Store    store.Store
	Clock    clockx.Clock

	ReadyChecks []func() error
}

func NewHandler(p HandlerParams) *Handler {
	if p.Clock == nil {
		p.Clock = clockx.System{}
	}
	return &Handler{
		sessions:    p.Sessions,
		twofactor:   p.TwoFactor,
		external:    p.External,
		admin:       p.Admin,
		verifier:    p.Verifier,
		stamps:      p.Stamps,
		store:       p.Store,
		clock:       p.Clock,
		readyChecks: p.ReadyChecks,
	}
}

// Routes builds the full route table. Credential endpoints sit behind the
// strict per-IP limit; everything authenticated behind the moderate one.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	authn := httpx.AuthnMiddleware(h.verifier, h.stamps, h.clock.Now)
	strict := httpx.RateLimitByIP(httpx.StrictLimit)
	moderate := httpx.RateLimitByIP(httpx.ModerateLimit)
	lenient := httpx.RateLimitByIP(httpx.LenientLimit)

	mux.HandleFunc("GET /livez", h.handleLivez)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	// First factor and session lifecycle.
	mux.Handle("POST /v1/auth/login", httpx.Chain(http.HandlerFunc(h.handleLogin), strict))
	mux.Handle("POST /v1/auth/refresh", httpx.Chain(http.HandlerFunc(h.handleRefresh), moderate))
	mux.Handle("POST /v1/auth/logout", httpx.Chain(http.HandlerFunc(h.handleLogout), moderate))
	mux.Handle("POST /v1/auth/logout-all",
		httpx.Chain(http.HandlerFunc(h.handleLogoutAll), moderate, authn))

	// Second factor: challenge completion is unauthenticated (the challenge
	// token is the credential), management requires a session.
	mux.Handle("POST /v1/auth/2fa/login", httpx.Chain(http.HandlerFunc(h.handleTwoFactorLogin), strict))
	mux.Handle("POST /v1/auth/2fa/recovery", httpx.Chain(http.HandlerFunc(h.handleTwoFactorRecovery), strict))
	mux.Handle("POST /v1/auth/2fa/setup", httpx.Chain(http.HandlerFunc(h.handleTwoFactorSetup), moderate, authn))
	mux.Handle("POST /v1/auth/2fa/verify", httpx.Chain(http.HandlerFunc(h.handleTwoFactorVerify), strict, authn))
	mux.Handle("POST /v1/auth/2fa/disable", httpx.Chain(http.HandlerFunc(h.handleTwoFactorDisable), strict, authn))
	mux.Handle("POST /v1/auth/2fa/recovery-codes",
		httpx.Chain(http.HandlerFunc(h.handleRecoveryCodes), strict, authn))

	// External providers.
	mux.Handle("GET /v1/auth/external/{provider}/challenge",
		httpx.Chain(http.HandlerFunc(h.handleExternalChallenge), moderate))
	mux.Handle("POST /v1/auth/external/{provider}/link",
		httpx.Chain(http.HandlerFunc(h.handleExternalLink), moderate, authn))
	mux.Handle("GET /v1/auth/external/callback",
		httpx.Chain(http.HandlerFunc(h.handleExternalCallback), moderate))
	mux.Handle("GET /v1/auth/external",
		httpx.Chain(http.HandlerFunc(h.handleListIdentities), lenient, authn))
	mux.Handle("DELETE /v1/auth/external/{provider}",
		httpx.Chain(http.HandlerFunc(h.handleExternalUnlink), moderate, authn))

	// Administration. Permission middleware gates entry; the service layer
	// enforces rank on top.
	mux.Handle("GET /v1/roles", httpx.Chain(http.HandlerFunc(h.handleListRoles),
		lenient, authn, httpx.RequirePermission(domain.PermRolesRead)))
	mux.Handle("POST /v1/roles", httpx.Chain(http.HandlerFunc(h.handleCreateRole),
		moderate, authn, httpx.RequirePermission(domain.PermRolesAssign)))
	mux.Handle("PUT /v1/roles/{role}/permissions", httpx.Chain(http.HandlerFunc(h.handleSetRolePermissions),
		moderate, authn, httpx.RequirePermission(domain.PermRolesAssign)))
	mux.Handle("DELETE /v1/roles/{role}", httpx.Chain(http.HandlerFunc(h.handleDeleteRole),
		moderate, authn, httpx.RequirePermission(domain.PermRolesAssign)))
	mux.Handle("POST /v1/users/{id}/roles", httpx.Chain(http.HandlerFunc(h.handleAssignRole),
		moderate, authn, httpx.RequirePermission(domain.PermRolesAssign)))
	mux.Handle("DELETE /v1/users/{id}/roles/{role}", httpx.Chain(http.HandlerFunc(h.handleRemoveRole),
		moderate, authn, httpx.RequirePermission(domain.PermRolesAssign)))
	mux.Handle("POST /v1/users/{id}/lock", httpx.Chain(http.HandlerFunc(h.handleLockUser),
		moderate, authn, httpx.RequirePermission(domain.PermUsersLock)))
	mux.Handle("DELETE /v1/users/{id}", httpx.Chain(http.HandlerFunc(h.handleDeleteUser),
		moderate, authn, httpx.RequirePermission(domain.PermUsersDelete)))

	return mux
}
