package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/syskeys/internal/adapter/driven/aesgcm"
	"github.com/ericfisherdev/syskeys/internal/adapter/driven/metrics"
	"github.com/ericfisherdev/syskeys/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/syskeys/internal/adapter/driving/http"
	"github.com/ericfisherdev/syskeys/internal/application"
	"github.com/ericfisherdev/syskeys/internal/config"
	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

const testToken = "test-admin-token"

type testServer struct {
	mux   http.Handler
	cache *application.ResolutionCache

	mu  sync.Mutex
	env map[string]string
}

func (s *testServer) lookupEnv(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.env[key]
	return v, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, env map[string]string) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()

	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "syskeys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = sqlite.RunMigrations(db.Writer)
	require.NoError(t, err)

	cipher, err := aesgcm.New(aesgcm.KeyConfig{MasterKey: bytes.Repeat([]byte{0x42}, 32)})
	require.NoError(t, err)

	srv := &testServer{env: env}
	audit := sqlite.NewAuditRepo(db)
	store := application.NewCredentialStore(sqlite.NewCredentialRepo(db), cipher, audit, logger)
	srv.cache = application.NewResolutionCache(store, config.NewFallbackTableWithLookup(srv.lookupEnv),
		model.EnvironmentProduction, logger)
	store.OnChange(srv.cache)

	reg := prometheus.NewRegistry()
	h := httphandler.NewHandler(store, srv.cache, audit, logger)
	srv.mux = httphandler.NewServeMux(h, logger,
		httphandler.WithAdminToken(testToken),
		httphandler.WithMetrics(metrics.NewWithRegistry(reg, reg)),
	)
	return srv
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createKey(t *testing.T, body string) httphandler.KeyResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/keys", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[httphandler.KeyResponse](t, rec)
}

const openaiKeyBody = `{"name":"OpenAI prod","provider":"openai","environment":"production","key":"sk-live-ABCDEFGH1234"}`

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[httphandler.HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "production", resp.Environment)
	assert.True(t, resp.StoreActive)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "req-fixed-1")
	assert.Equal(t, "req-fixed-1", rec.Header().Get("X-Request-ID"))
}

func TestAdminAuth(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testToken, http.StatusUnauthorized},
		{"valid", "Bearer " + testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := httphandler.NewHandler(nil, application.NewResolutionCache(nil,
		config.NewFallbackTableWithLookup(func(string) (string, bool) { return "", false }),
		model.EnvironmentDevelopment, discardLogger()), nil, discardLogger())
	mux := httphandler.NewServeMux(h, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateKey(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/keys", openaiKeyBody, "X-Actor-ID", "alice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "sk-live-ABCDEFGH1234")

	resp := decode[httphandler.KeyResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "production", resp.Environment)
	assert.Equal(t, "****1234", resp.Hint)
	assert.True(t, resp.IsActive)
	assert.Equal(t, "alice", resp.CreatedBy)
	assert.Nil(t, resp.ExpiresAt)

	got, ok := srv.cache.GetKey(context.Background(), model.ProviderOpenAI)
	require.True(t, ok)
	assert.Equal(t, "sk-live-ABCDEFGH1234", got)
}

func TestCreateKey_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest, "invalid request body"},
		{"unknown field", `{"name":"x","secret":"y"}`, http.StatusBadRequest, "invalid request body"},
		{"unknown provider", `{"name":"x","provider":"OpenAI","environment":"production","key":"k"}`, http.StatusBadRequest, "unknown provider"},
		{"unknown environment", `{"name":"x","provider":"openai","environment":"prod","key":"k"}`, http.StatusBadRequest, "unknown environment"},
		{"missing key", `{"name":"x","provider":"openai","environment":"production"}`, http.StatusBadRequest, "key is required"},
		{"rotation too long", `{"name":"x","provider":"openai","environment":"production","key":"k","rotation_days":200000}`, http.StatusBadRequest, "rotationDays must be at most"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			rec := srv.do(t, http.MethodPost, "/api/v1/keys", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], tt.wantError)
		})
	}
}

func TestCreateKey_Duplicate(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.createKey(t, openaiKeyBody)

	rec := srv.do(t, http.MethodPost, "/api/v1/keys", openaiKeyBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAndListKeys(t *testing.T) {
	srv := newTestServer(t, nil)
	created := srv.createKey(t, openaiKeyBody)

	rec := srv.do(t, http.MethodGet, "/api/v1/keys/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[httphandler.KeyResponse](t, rec).ID)

	rec = srv.do(t, http.MethodGet, "/api/v1/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]httphandler.KeyResponse](t, rec), 1)

	rec = srv.do(t, http.MethodGet, "/api/v1/keys/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateKey(t *testing.T) {
	srv := newTestServer(t, nil)
	created := srv.createKey(t, `{"name":"OpenAI","provider":"openai","environment":"production","key":"sk-live-ABCDEFGH1234","expires_at":"2099-01-01T00:00:00Z"}`)
	require.NotNil(t, created.ExpiresAt)

	rec := srv.do(t, http.MethodPatch, "/api/v1/keys/"+created.ID, `{"name":"Renamed","rotation_days":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[httphandler.KeyResponse](t, rec)
	assert.Equal(t, "Renamed", resp.Name)
	assert.NotNil(t, resp.RotationDue)
	assert.NotNil(t, resp.ExpiresAt, "omitted expires_at is left alone")
	assert.Nil(t, resp.RotatedAt)

	rec = srv.do(t, http.MethodPatch, "/api/v1/keys/"+created.ID, `{"expires_at":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[httphandler.KeyResponse](t, rec).ExpiresAt)

	rec = srv.do(t, http.MethodPatch, "/api/v1/keys/"+created.ID, `{"key":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPatch, "/api/v1/keys/missing", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRotateAndVerifyKey(t *testing.T) {
	srv := newTestServer(t, nil)
	created := srv.createKey(t, openaiKeyBody)
	ctx := context.Background()

	got, _ := srv.cache.GetKey(ctx, model.ProviderOpenAI)
	require.Equal(t, "sk-live-ABCDEFGH1234", got)

	rec := srv.do(t, http.MethodPost, "/api/v1/keys/"+created.ID+"/rotate", `{"key":"sk-live-ROTATED-9876"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[httphandler.KeyResponse](t, rec)
	assert.Equal(t, "****9876", resp.Hint)
	assert.NotNil(t, resp.RotatedAt)

	got, _ = srv.cache.GetKey(ctx, model.ProviderOpenAI)
	assert.Equal(t, "sk-live-ROTATED-9876", got, "rotation drops the cached value")

	rec = srv.do(t, http.MethodPost, "/api/v1/keys/"+created.ID+"/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, httphandler.VerifyResponse{Valid: true}, decode[httphandler.VerifyResponse](t, rec))
}

func TestDeactivateKey_FallsBackToEnvironment(t *testing.T) {
	srv := newTestServer(t, map[string]string{"OPENAI_API_KEY": "sk-from-env"})
	created := srv.createKey(t, openaiKeyBody)
	ctx := context.Background()

	assert.Equal(t, model.SourceDatabase, srv.cache.GetKeySource(ctx, model.ProviderOpenAI))

	rec := srv.do(t, http.MethodPost, "/api/v1/keys/"+created.ID+"/deactivate", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/keys/"+created.ID+"/deactivate", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "deactivation is idempotent")

	got, ok := srv.cache.GetKey(ctx, model.ProviderOpenAI)
	require.True(t, ok)
	assert.Equal(t, "sk-from-env", got)
	assert.Equal(t, model.SourceEnv, srv.cache.GetKeySource(ctx, model.ProviderOpenAI))
}

func TestDeleteKey_AuditTrailSurvives(t *testing.T) {
	srv := newTestServer(t, nil)
	created := srv.createKey(t, openaiKeyBody)

	rec := srv.do(t, http.MethodDelete, "/api/v1/keys/"+created.ID, "", "X-Actor-ID", "bob", "User-Agent", "ops-cli/1.0")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/keys/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/keys/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/keys/"+created.ID+"/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[[]httphandler.AuditRecordResponse](t, rec)
	require.Len(t, trail, 2)

	assert.Equal(t, "created", trail[0].Action)
	assert.Equal(t, "admin", trail[0].ActorID)

	deleted := trail[1]
	assert.Equal(t, "deleted", deleted.Action)
	assert.Equal(t, "bob", deleted.ActorID)
	assert.Equal(t, "ops-cli/1.0", deleted.UserAgent)
	assert.Equal(t, "192.0.2.1", deleted.IPAddress)
	assert.Equal(t, "OpenAI prod", deleted.PreviousData["name"])
	assert.NotContains(t, rec.Body.String(), "ABCDEFGH")
}

func TestInventoryEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.createKey(t, `{"name":"Old","provider":"stripe","environment":"production","key":"sk_live_expired_01","expires_at":"2000-01-01T00:00:00Z"}`)
	srv.createKey(t, openaiKeyBody)

	rec := srv.do(t, http.MethodGet, "/api/v1/keys/expired", "")
	require.Equal(t, http.StatusOK, rec.Code)
	expired := decode[[]httphandler.KeyResponse](t, rec)
	require.Len(t, expired, 1)
	assert.Equal(t, "stripe", expired[0].Provider)

	rec = srv.do(t, http.MethodGet, "/api/v1/keys/rotation-due", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]httphandler.KeyResponse](t, rec))

	rec = srv.do(t, http.MethodGet, "/api/v1/keys/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[httphandler.StatsResponse](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 0, stats.DueForRotation)
	assert.Equal(t, map[string]int{"stripe": 1, "openai": 1}, stats.ByProvider)
}

func TestListProviders(t *testing.T) {
	srv := newTestServer(t, map[string]string{"STRIPE_SECRET_KEY": "sk_env"})
	srv.createKey(t, openaiKeyBody)

	rec := srv.do(t, http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk_env")

	statuses := decode[[]httphandler.ProviderStatusResponse](t, rec)
	require.Len(t, statuses, len(model.Providers()))

	bySource := make(map[string]string)
	for _, s := range statuses {
		bySource[s.Provider] = s.Source
	}
	assert.Equal(t, "database", bySource["openai"])
	assert.Equal(t, "env", bySource["stripe"])
	assert.Equal(t, "none", bySource["resend"])
}

func TestClearCache(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	_, ok := srv.cache.GetKey(ctx, model.ProviderResend)
	require.False(t, ok)

	srv.mu.Lock()
	srv.env = map[string]string{"RESEND_API_KEY": "re_new"}
	srv.mu.Unlock()

	rec := srv.do(t, http.MethodPost, "/api/v1/cache/clear", `{"providers":["resend"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, ok := srv.cache.GetKey(ctx, model.ProviderResend)
	require.True(t, ok)
	assert.Equal(t, "re_new", got)

	rec = srv.do(t, http.MethodPost, "/api/v1/cache/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/cache/clear", `{"providers":["Resend"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreDisabled(t *testing.T) {
	cache := application.NewResolutionCache(nil,
		config.NewFallbackTableWithLookup(func(k string) (string, bool) {
			if k == "OPENAI_API_KEY" {
				return "sk-env", true
			}
			return "", false
		}),
		model.EnvironmentDevelopment, discardLogger())
	h := httphandler.NewHandler(nil, cache, nil, discardLogger())
	mux := httphandler.NewServeMux(h, discardLogger(), httphandler.WithAdminToken(testToken))

	call := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodGet, "/api/v1/keys", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SYSKEYS_SECRET_KEY")

	rec = call(http.MethodPost, "/api/v1/keys", openaiKeyBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = call(http.MethodGet, "/api/v1/keys/abc/audit", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = call(http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider":"openai","configured":true,"source":"env"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.createKey(t, openaiKeyBody)
	srv.do(t, http.MethodGet, "/api/v1/keys/unknown-id", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `route="POST /api/v1/keys",status="201"`)
	assert.Contains(t, body, `route="GET /api/v1/keys/{id}",status="404"`)
}
