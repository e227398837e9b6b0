package http

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/sableauth/sable/pkg/httpx"
)

type authorizationURLResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// handleExternalChallenge starts an unauthenticated login/register flow.
func (h *Handler) handleExternalChallenge(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	redirectURI := r.URL.Query().Get("redirect_uri")

	authURL, err := h.external.CreateChallenge(r.Context(), provider, redirectURI, nil)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authorizationURLResponse{AuthorizationURL: authURL})
}

type linkRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

// handleExternalLink starts a link flow for the authenticated caller. The
// callback will attach the identity instead of logging anyone in.
func (h *Handler) handleExternalLink(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RedirectURI == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is required")
		return
	}

	userID := httpx.UserIDFromContext(r.Context())
	authURL, err := h.external.CreateChallenge(r.Context(), provider, req.RedirectURI, &userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authorizationURLResponse{AuthorizationURL: authURL})
}

// handleExternalCallback finishes the provider round trip and redirects to
// the whitelisted URI captured at challenge time. Tokens travel in the URL
// fragment so they never hit server logs on the receiving side.
func (h *Handler) handleExternalCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "state and code are required")
		return
	}

	outcome, redirectURI, err := h.external.HandleCallback(r.Context(), state, code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	frag := url.Values{"provider": {outcome.Provider}}
	switch {
	case outcome.IsLinkOnly:
		frag.Set("status", "linked")
	case outcome.Login != nil && outcome.Login.RequiresTwoFactor:
		frag.Set("status", "2fa_required")
		frag.Set("challenge_token", outcome.Login.ChallengeToken)
	case outcome.Login != nil && outcome.Login.Tokens != nil:
		frag.Set("status", "ok")
		frag.Set("access_token", outcome.Login.Tokens.AccessToken)
		frag.Set("refresh_token", outcome.Login.Tokens.RefreshToken)
		if outcome.IsNewUser {
			frag.Set("new_user", "1")
		}
	}

	httpx.NoCache(w)
	http.Redirect(w, r, redirectURI+"#"+frag.Encode(), http.StatusFound)
}

func (h *Handler) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := h.external.ListIdentities(r.Context(), httpx.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	type identityDTO struct {
		Provider         string `json:"provider"`
		ProviderUsername string `json:"provider_username"`
	}
	out := make([]identityDTO, 0, len(identities))
	for _, id := range identities {
		out = append(out, identityDTO{Provider: id.Provider, ProviderUsername: id.ProviderUsername})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleExternalUnlink(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	userID := httpx.UserIDFromContext(r.Context())

	if err := h.external.UnlinkProvider(r.Context(), userID, provider); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
