package application_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testNow}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Repository ---

type memRepo struct {
	mu      sync.Mutex
	byID    map[string]model.Credential
	findErr error
	usage   []string
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[string]model.Credential)}
}

func (r *memRepo) Insert(_ context.Context, c model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Provider == c.Provider && existing.Environment == c.Environment {
			return driven.ErrCredentialExists
		}
	}
	r.byID[c.ID] = c
	return nil
}

func (r *memRepo) Update(_ context.Context, c model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; !ok {
		return driven.ErrCredentialNotFound
	}
	r.byID[c.ID] = c
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memRepo) FindResolvable(_ context.Context, p model.ProviderID, env model.Environment, now time.Time) (*model.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, c := range r.byID {
		if c.Provider == p && c.Environment == env && c.IsResolvable(now) {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListAll(_ context.Context) ([]model.Credential, error) {
	return r.filter(func(model.Credential) bool { return true }), nil
}

func (r *memRepo) ListDueForRotation(_ context.Context, now time.Time) ([]model.Credential, error) {
	return r.filter(func(c model.Credential) bool { return c.IsActive && c.IsDueForRotation(now) }), nil
}

func (r *memRepo) ListExpired(_ context.Context, now time.Time) ([]model.Credential, error) {
	return r.filter(func(c model.Credential) bool { return c.IsActive && c.IsExpired(now) }), nil
}

func (r *memRepo) RecordUsage(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return driven.ErrCredentialNotFound
	}
	c.UsageCount++
	c.LastUsedAt = &now
	r.byID[id] = c
	r.usage = append(r.usage, id)
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return driven.ErrCredentialNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *memRepo) filter(keep func(model.Credential) bool) []model.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Credential
	for _, c := range r.byID {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) setEnvelope(id, envelope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byID[id]
	c.EncryptedSecret = envelope
	r.byID[id] = c
}

// --- Cipher ---

const sealedPrefix = "sealed:"

// fakeCipher is reversible and recognisable so tests can assert that
// plaintext never reaches the repository.
type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) (string, error) {
	return sealedPrefix + reverse(plaintext), nil
}

func (fakeCipher) Decrypt(envelope string) (string, error) {
	if !strings.HasPrefix(envelope, sealedPrefix) {
		return "", driven.ErrDecryption
	}
	return reverse(strings.TrimPrefix(envelope, sealedPrefix)), nil
}

func (fakeCipher) Hint(plaintext string) string {
	if len(plaintext) <= 8 {
		return "********"
	}
	return "****" + plaintext[len(plaintext)-4:]
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// --- Audit ---

type auditCall struct {
	Context model.AuditContext
	Event   model.AuditEvent
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
	err   error
}

func (a *recordingAudit) Log(_ context.Context, actx model.AuditContext, event model.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{Context: actx, Event: event})
	return a.err
}

func (a *recordingAudit) actions() []model.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.AuditAction, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c.Event.Action)
	}
	return out
}

// --- Notifier ---

type changeCall struct {
	Provider    model.ProviderID
	Environment model.Environment
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []changeCall
	err   error
}

func (n *recordingNotifier) CredentialChanged(_ context.Context, p model.ProviderID, env model.Environment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, changeCall{Provider: p, Environment: env})
	return n.err
}

// --- Lookup ---

type stubLookup struct {
	calls atomic.Int32
	fn    func(ctx context.Context, p model.ProviderID, env model.Environment) (string, error)
}

func (s *stubLookup) GetDecryptedKey(ctx context.Context, p model.ProviderID, env model.Environment) (string, error) {
	s.calls.Add(1)
	return s.fn(ctx, p, env)
}

func lookupReturning(value string, err error) *stubLookup {
	return &stubLookup{fn: func(context.Context, model.ProviderID, model.Environment) (string, error) {
		return value, err
	}}
}

// --- Metrics ---

type resolutionCall struct {
	Provider model.ProviderID
	Source   model.Source
	Cached   bool
}

type recordingMetrics struct {
	mu          sync.Mutex
	resolutions []resolutionCall
	failures    []model.ProviderID
	stats       []model.KeyStats
}

func (m *recordingMetrics) ObserveResolution(p model.ProviderID, source model.Source, cached bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, resolutionCall{Provider: p, Source: source, Cached: cached})
}

func (m *recordingMetrics) ObserveStoreFailure(p model.ProviderID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, p)
}

func (m *recordingMetrics) ObserveKeyStats(stats model.KeyStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = append(m.stats, stats)
}

// envMap is a lookup function for config.NewFallbackTableWithLookup.
type envMap struct {
	mu   sync.Mutex
	vars map[string]string
}

func newEnvMap(kv ...string) *envMap {
	m := &envMap{vars: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.vars[kv[i]] = kv[i+1]
	}
	return m
}

func (m *envMap) Lookup(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[key]
	return v, ok
}

func (m *envMap) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[key] = value
}
