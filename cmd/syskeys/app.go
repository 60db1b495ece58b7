package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/syskeys/internal/adapter/driven/aesgcm"
	"github.com/ericfisherdev/syskeys/internal/adapter/driven/metrics"
	redisbus "github.com/ericfisherdev/syskeys/internal/adapter/driven/redis"
	sqliteadapter "github.com/ericfisherdev/syskeys/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/syskeys/internal/application"
	"github.com/ericfisherdev/syskeys/internal/config"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// app holds the wired adapters and services shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sqliteadapter.DB
	audit    *sqliteadapter.AuditRepo
	store    *application.CredentialStore // nil without an encryption key
	fallback *config.FallbackTable
	cache    *application.ResolutionCache
	metrics  *metrics.Metrics
	bus      *redisbus.Bus // nil without SYSKEYS_REDIS_URL
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	// 1. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("database ready", "path", cfg.DBPath, "schema_version", version)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		audit:    sqliteadapter.NewAuditRepo(db),
		fallback: config.NewFallbackTable(),
		metrics:  metrics.New(),
	}

	// 2. Credential store, only when key material is configured.
	var lookup application.KeyLookup
	if cfg.HasEncryptionKey() {
		cipher, err := aesgcm.New(aesgcm.KeyConfig{
			MasterKey:  cfg.SecretKey,
			Passphrase: cfg.SecretPassphrase,
			Salt:       cfg.SecretSalt,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		a.store = application.NewCredentialStore(sqliteadapter.NewCredentialRepo(db), cipher, a.audit, logger)
		lookup = a.store
	} else {
		logger.Warn("no encryption key configured, database-backed keys disabled",
			"env_var", "SYSKEYS_SECRET_KEY",
		)
	}

	// 3. Resolution cache for this process's environment.
	a.cache = application.NewResolutionCache(lookup, a.fallback, cfg.Environment, logger,
		application.WithTTL(cfg.CacheTTL),
		application.WithStoreTimeout(cfg.StoreTimeout),
		application.WithMetrics(a.metrics),
	)

	// 4. Change fan-out: local cache first, then other instances.
	notifiers := application.Notifiers{a.cache}
	if cfg.RedisURL != "" {
		bus, err := redisbus.New(cfg.RedisURL, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.bus = bus
		notifiers = append(notifiers, bus)
	}
	if a.store != nil {
		a.store.OnChange(notifiers)
	}

	return a, nil
}

// requireStore returns the credential store or explains why it is missing.
func (a *app) requireStore() (*application.CredentialStore, error) {
	if a.store == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	return a.store, nil
}

func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Error("error closing redis client", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
