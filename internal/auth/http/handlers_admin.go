package http

import (
	"encoding/json"
	"net/http"

	"github.com/sableauth/sable/pkg/httpx"
)

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	type roleDTO struct {
		Name string `json:"name"`
		Rank int    `json:"rank"`
	}
	out := make([]roleDTO, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleDTO{Name: role.Name, Rank: role.Rank})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	if err := h.admin.CreateRole(r.Context(), req.Name, req.Permissions); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (h *Handler) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req setPermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "permissions are required")
		return
	}

	if err := h.admin.SetRolePermissions(r.Context(), r.PathValue("role"), req.Permissions); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteRole(r.Context(), r.PathValue("role")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "role is required")
		return
	}

	actor := httpx.UserIDFromContext(r.Context())
	if err := h.admin.AssignRole(r.Context(), actor, r.PathValue("id"), req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	actor := httpx.UserIDFromContext(r.Context())
	if err := h.admin.RemoveRole(r.Context(), actor, r.PathValue("id"), r.PathValue("role")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLockUser(w http.ResponseWriter, r *http.Request) {
	actor := httpx.UserIDFromContext(r.Context())
	if err := h.admin.LockUser(r.Context(), actor, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := httpx.UserIDFromContext(r.Context())
	if err := h.admin.DeleteUser(r.Context(), actor, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
