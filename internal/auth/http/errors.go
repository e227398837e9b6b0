package http

import (
	"errors"
	"net/http"

	"github.com/sableauth/sable/internal/auth/service"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/httpx"
	"github.com/sableauth/sable/pkg/slogx"
)

// writeServiceError maps service sentinels onto HTTP responses. Unmapped
// errors become a logged 500 with an opaque body.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password.")
	case errors.Is(err, service.ErrInvalidToken):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "The token is invalid or has been revoked.")
	case errors.Is(err, service.ErrTokenExpired):
		httpx.WriteError(w, http.StatusUnauthorized, "token_expired", "The token has expired.")
	case errors.Is(err, service.ErrChallengeNotFound):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_challenge", "The challenge is invalid or has expired.")
	case errors.Is(err, service.ErrChallengeLocked):
		httpx.WriteError(w, http.StatusTooManyRequests, "challenge_locked", "Too many failed attempts. Log in again.")
	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "The code is incorrect.")
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		httpx.WriteError(w, http.StatusConflict, "two_factor_not_enabled", "Two-factor authentication is not enabled.")
	case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
		httpx.WriteError(w, http.StatusConflict, "two_factor_enabled", "Two-factor authentication is already enabled.")
	case errors.Is(err, service.ErrTwoFactorSetupPending):
		httpx.WriteError(w, http.StatusConflict, "two_factor_setup_missing", "Start two-factor setup first.")
	case errors.Is(err, service.ErrUnknownProvider):
		httpx.WriteError(w, http.StatusNotFound, "unknown_provider", "No such provider is configured.")
	case errors.Is(err, service.ErrInvalidState):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_state", "The state token is invalid or has expired.")
	case errors.Is(err, service.ErrRedirectURINotAllowed):
		httpx.WriteError(w, http.StatusBadRequest, "redirect_uri_not_allowed", "The redirect URI is not whitelisted.")
	case errors.Is(err, service.ErrIdentityAlreadyLinked):
		httpx.WriteError(w, http.StatusConflict, "identity_linked", "This identity is linked to another account.")
	case errors.Is(err, service.ErrIdentityNotFound):
		httpx.WriteError(w, http.StatusNotFound, "identity_not_found", "No such linked identity.")
	case errors.Is(err, service.ErrLastAuthMethod):
		httpx.WriteError(w, http.StatusConflict, "last_auth_method", "Cannot remove the only way to sign in.")
	case errors.Is(err, service.ErrInsufficientRank):
		httpx.WriteError(w, http.StatusForbidden, "insufficient_rank", "The target outranks you.")
	case errors.Is(err, service.ErrSelfActionForbidden):
		httpx.WriteError(w, http.StatusForbidden, "self_action_forbidden", "You cannot perform this action on your own account.")
	case errors.Is(err, service.ErrUnknownPermission):
		httpx.WriteError(w, http.StatusBadRequest, "unknown_permission", "One of the permissions does not exist.")
	case errors.Is(err, service.ErrRoleNotFound):
		httpx.WriteError(w, http.StatusNotFound, "role_not_found", "No such role.")
	case errors.Is(err, service.ErrUserNotFound):
		httpx.WriteError(w, http.StatusNotFound, "user_not_found", "No such user.")
	case errors.Is(err, store.ErrAlreadyExists):
		httpx.WriteError(w, http.StatusConflict, "already_exists", "The resource already exists.")
	default:
		slogx.FromContext(r.Context()).Error("unhandled service error", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "Something went wrong.")
	}
}
