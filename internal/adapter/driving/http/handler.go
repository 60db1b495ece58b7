// Package httphandler serves the credential admin API.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/syskeys/internal/application"
	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// AuditTrail reads the recorded history of an entity.
type AuditTrail interface {
	ListByEntity(ctx context.Context, entityType, entityID string) ([]model.AuditRecord, error)
}

// MetricsExporter serves collected metrics and records per-request outcomes.
type MetricsExporter interface {
	Handler() http.Handler
	ObserveHTTPRequest(method, route string, status int, elapsed time.Duration)
}

// Handler is the HTTP driving adapter that serves the REST API.
// store and audit are nil when no encryption key is configured; the key
// endpoints then answer 503 while provider status keeps working.
type Handler struct {
	store  *application.CredentialStore
	cache  *application.ResolutionCache
	audit  AuditTrail
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	store *application.CredentialStore,
	cache *application.ResolutionCache,
	audit AuditTrail,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:  store,
		cache:  cache,
		audit:  audit,
		logger: logger,
	}
}

type muxOptions struct {
	adminToken string
	metrics    MetricsExporter
}

// MuxOption configures NewServeMux.
type MuxOption func(*muxOptions)

// WithAdminToken sets the bearer token the admin routes require. Without it
// the admin routes are disabled.
func WithAdminToken(token string) MuxOption {
	return func(o *muxOptions) { o.adminToken = token }
}

// WithMetrics exposes /metrics and records request metrics.
func WithMetrics(m MetricsExporter) MuxOption {
	return func(o *muxOptions) { o.metrics = m }
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with correlation, logging, recovery and metrics middleware.
func NewServeMux(h *Handler, logger *slog.Logger, opts ...MuxOption) http.Handler {
	var o muxOptions
	for _, opt := range opts {
		opt(&o)
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return adminAuth(o.adminToken, fn)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	if o.metrics != nil {
		mux.Handle("GET /metrics", o.metrics.Handler())
	}

	mux.Handle("GET /api/v1/providers", admin(h.ListProviders))
	mux.Handle("POST /api/v1/cache/clear", admin(h.ClearCache))

	mux.Handle("GET /api/v1/keys", admin(h.ListKeys))
	mux.Handle("POST /api/v1/keys", admin(h.CreateKey))
	mux.Handle("GET /api/v1/keys/stats", admin(h.KeyStats))
	mux.Handle("GET /api/v1/keys/rotation-due", admin(h.KeysDueForRotation))
	mux.Handle("GET /api/v1/keys/expired", admin(h.ExpiredKeys))
	mux.Handle("GET /api/v1/keys/{id}", admin(h.GetKey))
	mux.Handle("PATCH /api/v1/keys/{id}", admin(h.UpdateKey))
	mux.Handle("DELETE /api/v1/keys/{id}", admin(h.DeleteKey))
	mux.Handle("POST /api/v1/keys/{id}/rotate", admin(h.RotateKey))
	mux.Handle("POST /api/v1/keys/{id}/deactivate", admin(h.DeactivateKey))
	mux.Handle("POST /api/v1/keys/{id}/verify", admin(h.VerifyKey))
	mux.Handle("GET /api/v1/keys/{id}/audit", admin(h.KeyAudit))

	// Metrics innermost so r.Pattern is visible after the mux has routed.
	var wrapped http.Handler = mux
	if o.metrics != nil {
		wrapped = metricsMiddleware(o.metrics, wrapped)
	}
	wrapped = recoveryMiddleware(logger, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = correlationMiddleware(wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Time:        time.Now().UTC().Format(time.RFC3339),
		StoreActive: h.store != nil,
	}
	if h.cache != nil {
		resp.Environment = string(h.cache.Environment())
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps application and port errors onto status codes.
// Unexpected errors are logged and reported as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, driven.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, driven.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
	case errors.Is(err, driven.ErrCredentialExists):
		writeError(w, http.StatusConflict, "a credential already exists for this provider and environment")
	case errors.Is(err, driven.ErrEncryptionKeyNotSet):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// requireStore answers 503 and returns false when the store is disabled.
func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, driven.ErrEncryptionKeyNotSet.Error())
		return false
	}
	return true
}
