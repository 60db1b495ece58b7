package httphandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// KeyResponse is the JSON representation of a stored credential. It never
// carries the secret or its envelope.
type KeyResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Environment string  `json:"environment"`
	Hint        string  `json:"hint"`
	IsActive    bool    `json:"is_active"`
	ExpiresAt   *string `json:"expires_at"`
	RotatedAt   *string `json:"rotated_at"`
	RotationDue *string `json:"rotation_due"`
	LastUsedAt  *string `json:"last_used_at"`
	UsageCount  int64   `json:"usage_count"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// CreateKeyRequest is the JSON body for the create key endpoint.
type CreateKeyRequest struct {
	Name         string     `json:"name"`
	Provider     string     `json:"provider"`
	Environment  string     `json:"environment"`
	Key          string     `json:"key"`
	ExpiresAt    *time.Time `json:"expires_at"`
	RotationDays *int       `json:"rotation_days"`
}

func (req CreateKeyRequest) toInput() model.CreateKeyInput {
	return model.CreateKeyInput{
		Name:         req.Name,
		Provider:     model.ProviderID(req.Provider),
		Environment:  model.Environment(req.Environment),
		Secret:       req.Key,
		ExpiresAt:    req.ExpiresAt,
		RotationDays: req.RotationDays,
	}
}

// UpdateKeyRequest is the JSON body for the update key endpoint. Omitted
// fields are left unchanged; "expires_at": null removes the expiry.
type UpdateKeyRequest struct {
	Name         *string      `json:"name"`
	Key          *string      `json:"key"`
	IsActive     *bool        `json:"is_active"`
	ExpiresAt    optionalTime `json:"expires_at"`
	RotationDays *int         `json:"rotation_days"`
}

func (req UpdateKeyRequest) toInput() model.UpdateKeyInput {
	in := model.UpdateKeyInput{
		Name:         req.Name,
		Secret:       req.Key,
		IsActive:     req.IsActive,
		RotationDays: req.RotationDays,
	}
	if req.ExpiresAt.Set {
		if req.ExpiresAt.Value == nil {
			in.ClearExpiresAt = true
		} else {
			in.ExpiresAt = req.ExpiresAt.Value
		}
	}
	return in
}

// optionalTime distinguishes an absent field from an explicit null.
type optionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *optionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("expires_at: %w", err)
	}
	o.Value = &t
	return nil
}

// RotateKeyRequest is the JSON body for the rotate endpoint.
type RotateKeyRequest struct {
	Key string `json:"key"`
}

// VerifyResponse reports whether a stored credential still decrypts.
type VerifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// StatsResponse is the JSON representation of inventory counts.
type StatsResponse struct {
	Total          int            `json:"total"`
	Active         int            `json:"active"`
	Expired        int            `json:"expired"`
	DueForRotation int            `json:"due_for_rotation"`
	ByProvider     map[string]int `json:"by_provider"`
}

// ProviderStatusResponse reports how a provider currently resolves.
type ProviderStatusResponse struct {
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
	Source     string `json:"source"`
}

// ClearCacheRequest is the optional JSON body for the cache clear endpoint.
type ClearCacheRequest struct {
	Providers []string `json:"providers"`
}

// AuditRecordResponse is one entry of a credential's audit trail.
type AuditRecordResponse struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	ActorID      string         `json:"actor_id"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	PreviousData map[string]any `json:"previous_data,omitempty"`
	NewData      map[string]any `json:"new_data,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   string         `json:"occurred_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Time        string `json:"time"`
	Environment string `json:"environment,omitempty"`
	StoreActive bool   `json:"store_active"`
}

func toKeyResponse(info model.CredentialInfo) KeyResponse {
	return KeyResponse{
		ID:          info.ID,
		Name:        info.Name,
		Provider:    string(info.Provider),
		Environment: string(info.Environment),
		Hint:        info.Hint,
		IsActive:    info.IsActive,
		ExpiresAt:   formatOptional(info.ExpiresAt),
		RotatedAt:   formatOptional(info.RotatedAt),
		RotationDue: formatOptional(info.RotationDue),
		LastUsedAt:  formatOptional(info.LastUsedAt),
		UsageCount:  info.UsageCount,
		CreatedBy:   info.CreatedBy,
		CreatedAt:   info.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   info.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toKeyResponses(infos []model.CredentialInfo) []KeyResponse {
	resp := make([]KeyResponse, 0, len(infos))
	for _, info := range infos {
		resp = append(resp, toKeyResponse(info))
	}
	return resp
}

func toStatsResponse(stats model.KeyStats) StatsResponse {
	byProvider := make(map[string]int, len(stats.ByProvider))
	for p, n := range stats.ByProvider {
		byProvider[string(p)] = n
	}
	return StatsResponse{
		Total:          stats.Total,
		Active:         stats.Active,
		Expired:        stats.Expired,
		DueForRotation: stats.DueForRotation,
		ByProvider:     byProvider,
	}
}

func toAuditRecordResponse(rec model.AuditRecord) AuditRecordResponse {
	return AuditRecordResponse{
		ID:           rec.ID,
		Action:       string(rec.Event.Action),
		ActorID:      rec.Context.ActorID,
		IPAddress:    rec.Context.IPAddress,
		UserAgent:    rec.Context.UserAgent,
		PreviousData: rec.Event.PreviousData,
		NewData:      rec.Event.NewData,
		Details:      rec.Event.Details,
		OccurredAt:   rec.Event.OccurredAt.UTC().Format(time.RFC3339),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
