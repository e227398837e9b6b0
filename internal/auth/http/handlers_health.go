package http

import (
	"net/http"

	"github.com/sableauth/sable/pkg/httpx"
	"github.com/sableauth/sable/pkg/slogx"
)

func (h *Handler) handleLivez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready only when the store answers a ping and every
// extra check passes.
func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slogx.FromContext(r.Context()).Warn("readyz: store ping failed", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "store unavailable")
		return
	}
	for _, check := range h.readyChecks {
		if err := check(); err != nil {
			slogx.FromContext(r.Context()).Warn("readyz: check failed", "err", err)
			httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "dependency unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
