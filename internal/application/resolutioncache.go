package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

const (
	// DefaultCacheTTL bounds how long a resolution (including a negative one)
	// is served from memory.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultStoreTimeout bounds a single credential store lookup.
	DefaultStoreTimeout = 3 * time.Second
)

// ErrNotConfigured is matched by every ConfigurationError.
var ErrNotConfigured = errors.New("credential not configured")

// ConfigurationError reports that a provider resolved to nothing from either
// the credential store or the environment fallback.
type ConfigurationError struct {
	Provider model.ProviderID
	EnvVar   string
}

func (e *ConfigurationError) Error() string {
	if e.EnvVar == "" {
		return fmt.Sprintf("%s API key not configured: add it through the admin API", e.Provider)
	}
	return fmt.Sprintf("%s API key not configured: add it through the admin API or set %s", e.Provider, e.EnvVar)
}

// Is makes errors.Is(err, ErrNotConfigured) true for any ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrNotConfigured
}

// KeyLookup is the store query the cache resolves through.
type KeyLookup interface {
	GetDecryptedKey(ctx context.Context, provider model.ProviderID, env model.Environment) (string, error)
}

// CacheOption configures a ResolutionCache.
type CacheOption func(*ResolutionCache)

// WithClock overrides the clock used for entry expiry.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ResolutionCache) { c.now = now }
}

// WithTTL overrides DefaultCacheTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ResolutionCache) { c.ttl = ttl }
}

// WithStoreTimeout overrides DefaultStoreTimeout.
func WithStoreTimeout(d time.Duration) CacheOption {
	return func(c *ResolutionCache) { c.storeTimeout = d }
}

// WithMetrics records resolution outcomes.
func WithMetrics(m driven.ResolutionMetrics) CacheOption {
	return func(c *ResolutionCache) { c.metrics = m }
}

type cacheEntry struct {
	value     string
	source    model.Source
	expiresAt time.Time
}

type resolutionKind int

const (
	resolved resolutionKind = iota
	notConfigured
	storeUnavailable
)

// storeResult is the outcome of one store lookup. Only notConfigured and
// storeUnavailable fall through to the environment.
type storeResult struct {
	kind  resolutionKind
	value string
	cause error
}

// ResolutionCache answers "what is the key for provider P" for the
// process environment. It first consults the credential store, then the
// fallback table, and caches whatever it found (negative results included)
// for the TTL. Store failures are never surfaced to callers.
//
// A nil lookup puts the cache in fallback-only mode.
type ResolutionCache struct {
	lookup       KeyLookup
	fallback     driven.FallbackTable
	env          model.Environment
	ttl          time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	metrics      driven.ResolutionMetrics
	logger       *slog.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	// generation increments on every clear. A lookup that started under an
	// older generation does not write its result back.
	generation uint64
}

// NewResolutionCache creates a cache resolving keys for env.
func NewResolutionCache(
	lookup KeyLookup,
	fallback driven.FallbackTable,
	env model.Environment,
	logger *slog.Logger,
	opts ...CacheOption,
) *ResolutionCache {
	c := &ResolutionCache{
		lookup:       lookup,
		fallback:     fallback,
		env:          env,
		ttl:          DefaultCacheTTL,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
		metrics:      noopMetrics{},
		logger:       logger,
		entries:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Environment returns the environment this cache resolves for.
func (c *ResolutionCache) Environment() model.Environment {
	return c.env
}

// GetKey returns the provider's key and whether one was found anywhere.
func (c *ResolutionCache) GetKey(ctx context.Context, provider model.ProviderID) (string, bool) {
	entry := c.resolve(ctx, provider)
	return entry.value, entry.source != model.SourceNone
}

// RequireKey is GetKey for callers that cannot proceed without a key.
// The error is a *ConfigurationError naming the fallback variable.
func (c *ResolutionCache) RequireKey(ctx context.Context, provider model.ProviderID) (string, error) {
	value, ok := c.GetKey(ctx, provider)
	if !ok {
		return "", &ConfigurationError{Provider: provider, EnvVar: c.fallback.EnvVar(provider)}
	}
	return value, nil
}

// HasKey reports whether the provider resolves to a key.
func (c *ResolutionCache) HasKey(ctx context.Context, provider model.ProviderID) bool {
	_, ok := c.GetKey(ctx, provider)
	return ok
}

// GetKeySource reports where the provider's key currently comes from.
func (c *ResolutionCache) GetKeySource(ctx context.Context, provider model.ProviderID) model.Source {
	return c.resolve(ctx, provider).source
}

// GetProvidersStatus resolves every provider in the fallback table.
func (c *ResolutionCache) GetProvidersStatus(ctx context.Context) []model.ProviderStatus {
	providers := c.fallback.Providers()
	out := make([]model.ProviderStatus, 0, len(providers))
	for _, p := range providers {
		entry := c.resolve(ctx, p)
		out = append(out, model.ProviderStatus{
			Provider:   p,
			Configured: entry.source != model.SourceNone,
			Source:     entry.source,
		})
	}
	return out
}

// ClearCache drops the cached entries of the given providers, or every
// entry when called with none.
func (c *ResolutionCache) ClearCache(providers ...model.ProviderID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if len(providers) == 0 {
		c.entries = make(map[string]cacheEntry)
		return
	}
	for _, p := range providers {
		delete(c.entries, c.cacheKey(p))
	}
}

// CredentialChanged drops the provider's entry when the change concerns
// this cache's environment.
func (c *ResolutionCache) CredentialChanged(_ context.Context, provider model.ProviderID, env model.Environment) error {
	if env == c.env {
		c.ClearCache(provider)
	}
	return nil
}

func (c *ResolutionCache) resolve(ctx context.Context, provider model.ProviderID) cacheEntry {
	key := c.cacheKey(provider)
	now := c.now()

	c.mu.RLock()
	previous, ok := c.entries[key]
	generation := c.generation
	c.mu.RUnlock()

	if ok && now.Before(previous.expiresAt) {
		c.metrics.ObserveResolution(provider, previous.source, true)
		return previous
	}

	entry := cacheEntry{source: model.SourceNone, expiresAt: now.Add(c.ttl)}

	res := c.queryStore(ctx, provider)
	switch res.kind {
	case resolved:
		entry.value = res.value
		entry.source = model.SourceDatabase
	case storeUnavailable:
		c.metrics.ObserveStoreFailure(provider)
		c.logger.Warn("credential store unavailable, falling back to environment",
			"provider", provider,
			"environment", c.env,
			"error", res.cause,
		)
	case notConfigured:
	}

	if entry.source == model.SourceNone {
		if value, found := c.fallback.Lookup(provider); found {
			entry.value = value
			entry.source = model.SourceEnv
		}
	}

	switch {
	case entry.source == model.SourceNone:
		c.logger.Warn("no key configured for provider",
			"provider", provider,
			"environment", c.env,
			"env_var", c.fallback.EnvVar(provider),
		)
	case !ok || previous.source != entry.source:
		c.logger.Info("resolved provider key",
			"provider", provider,
			"environment", c.env,
			"source", entry.source,
		)
	}

	c.mu.Lock()
	if c.generation == generation {
		c.entries[key] = entry
	}
	c.mu.Unlock()

	c.metrics.ObserveResolution(provider, entry.source, false)
	return entry
}

func (c *ResolutionCache) queryStore(ctx context.Context, provider model.ProviderID) storeResult {
	if c.lookup == nil {
		return storeResult{kind: notConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	value, err := c.lookup.GetDecryptedKey(ctx, provider, c.env)
	switch {
	case err != nil:
		return storeResult{kind: storeUnavailable, cause: err}
	case value == "":
		return storeResult{kind: notConfigured}
	default:
		return storeResult{kind: resolved, value: value}
	}
}

func (c *ResolutionCache) cacheKey(provider model.ProviderID) string {
	return string(provider) + ":" + string(c.env)
}

type noopMetrics struct{}

func (noopMetrics) ObserveResolution(model.ProviderID, model.Source, bool) {}
func (noopMetrics) ObserveStoreFailure(model.ProviderID) {}
func (noopMetrics) ObserveKeyStats(model.KeyStats) {}
