package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

// ListKeys returns every stored credential, redacted.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	keys, err := h.store.ListKeys(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to list keys", err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponses(keys))
}

// CreateKey stores a new credential.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var req CreateKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.store.CreateKey(r.Context(), req.toInput(), auditContext(r))
	if err != nil {
		h.writeServiceError(w, r, "failed to create key", err)
		return
	}
	writeJSON(w, http.StatusCreated, toKeyResponse(info))
}

// GetKey returns one credential, redacted.
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	info, err := h.store.GetKey(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, "failed to get key", err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(info))
}

// UpdateKey applies a partial update.
func (h *Handler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var req UpdateKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.store.UpdateKey(r.Context(), r.PathValue("id"), req.toInput(), auditContext(r))
	if err != nil {
		h.writeServiceError(w, r, "failed to update key", err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(info))
}

// RotateKey replaces a credential's secret value.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var req RotateKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.store.RotateKey(r.Context(), r.PathValue("id"), req.Key, auditContext(r))
	if err != nil {
		h.writeServiceError(w, r, "failed to rotate key", err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(info))
}

// DeactivateKey excludes a credential from resolution.
func (h *Handler) DeactivateKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	if err := h.store.DeactivateKey(r.Context(), r.PathValue("id"), auditContext(r)); err != nil {
		h.writeServiceError(w, r, "failed to deactivate key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteKey removes a credential.
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	if err := h.store.DeleteKey(r.Context(), r.PathValue("id"), auditContext(r)); err != nil {
		h.writeServiceError(w, r, "failed to delete key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyKey checks that a credential still decrypts.
func (h *Handler) VerifyKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	res, err := h.store.VerifyKey(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, "failed to verify key", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: res.Valid, Error: res.Error})
}

// KeyStats returns inventory counts.
func (h *Handler) KeyStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	stats, err := h.store.GetKeyStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to compute key stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

// KeysDueForRotation lists active credentials past their rotation date.
func (h *Handler) KeysDueForRotation(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	keys, err := h.store.GetKeysDueForRotation(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to list keys due for rotation", err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponses(keys))
}

// ExpiredKeys lists active credentials past their expiry.
func (h *Handler) ExpiredKeys(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	keys, err := h.store.GetExpiredKeys(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to list expired keys", err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponses(keys))
}

// KeyAudit returns the audit trail of one credential, oldest first. The
// trail outlives the credential, so a deleted ID still has history.
func (h *Handler) KeyAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit trail unavailable")
		return
	}
	records, err := h.audit.ListByEntity(r.Context(), model.AuditEntityCredential, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, "failed to list audit trail", err)
		return
	}

	resp := make([]AuditRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toAuditRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
