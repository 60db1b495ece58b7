package httphandler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

// ListProviders reports, for each known provider, whether a key resolves in
// this process's environment and from which source. Values are never returned.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	statuses := h.cache.GetProvidersStatus(r.Context())

	resp := make([]ProviderStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, ProviderStatusResponse{
			Provider:   string(s.Provider),
			Configured: s.Configured,
			Source:     string(s.Source),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache drops cached resolutions for the listed providers, or for all
// providers when the list is empty or the body is omitted.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	var req ClearCacheRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	providers := make([]model.ProviderID, 0, len(req.Providers))
	for _, p := range req.Providers {
		id := model.ProviderID(p)
		if !id.Valid() {
			writeError(w, http.StatusBadRequest, "unknown provider: "+p)
			return
		}
		providers = append(providers, id)
	}

	h.cache.ClearCache(providers...)
	h.logger.InfoContext(r.Context(), "resolution cache cleared", "providers", req.Providers)

	w.WriteHeader(http.StatusNoContent)
}
