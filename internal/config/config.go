// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	Environment         model.Environment
	ListenAddr          string
	DBPath              string
	SecretKey           []byte
	SecretPassphrase    string
	SecretSalt          []byte
	CacheTTL            time.Duration
	StoreTimeout        time.Duration
	AdminToken          string
	RedisURL            string
	MaintenanceSchedule string
	LogLevel            string
	LogFormat           string
}

// HasEncryptionKey reports whether a master key or a passphrase was supplied.
func (c *Config) HasEncryptionKey() bool {
	return len(c.SecretKey) > 0 || c.SecretPassphrase != ""
}

// environmentAliases maps deployment-mode spellings onto credential environments.
var environmentAliases = map[string]model.Environment{
	"prod":  model.EnvironmentProduction,
	"dev":   model.EnvironmentDevelopment,
	"stage": model.EnvironmentStaging,
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding values already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// The encryption key (SYSKEYS_SECRET_KEY, 64 hex characters) is optional; without it
// or a passphrase the database-backed store is disabled and resolution relies on
// the environment fallback table.
// Optional variables with defaults: SYSKEYS_ENV (development), SYSKEYS_LISTEN_ADDR
// (127.0.0.1:8080), SYSKEYS_DB_PATH (syskeys.db), SYSKEYS_CACHE_TTL (5m),
// SYSKEYS_STORE_TIMEOUT (3s), SYSKEYS_MAINTENANCE_SCHEDULE (@hourly),
// SYSKEYS_LOG_LEVEL (info), SYSKEYS_LOG_FORMAT (text).
func Load() (*Config, error) {
	env := model.EnvironmentDevelopment
	if v, ok := os.LookupEnv("SYSKEYS_ENV"); ok && v != "" {
		parsed, err := parseEnvironment(v)
		if err != nil {
			return nil, fmt.Errorf("SYSKEYS_ENV: %w", err)
		}
		env = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("SYSKEYS_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "syskeys.db"
	if v, ok := os.LookupEnv("SYSKEYS_DB_PATH"); ok {
		dbPath = v
	}

	cacheTTL, err := durationEnv("SYSKEYS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	storeTimeout, err := durationEnv("SYSKEYS_STORE_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, err
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("SYSKEYS_SECRET_KEY"); ok && v != "" {
		decoded, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("SYSKEYS_SECRET_KEY must be 64 hex characters: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("SYSKEYS_SECRET_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		secretKey = decoded
	}

	passphrase := os.Getenv("SYSKEYS_SECRET_PASSPHRASE")
	var salt []byte
	if v := os.Getenv("SYSKEYS_SECRET_SALT"); v != "" {
		salt = []byte(v)
	}
	if passphrase != "" && len(salt) == 0 {
		return nil, errors.New("SYSKEYS_SECRET_SALT is required with SYSKEYS_SECRET_PASSPHRASE")
	}

	schedule := "@hourly"
	if v, ok := os.LookupEnv("SYSKEYS_MAINTENANCE_SCHEDULE"); ok && v != "" {
		schedule = v
	}

	logLevel := strings.ToLower(envOr("SYSKEYS_LOG_LEVEL", "info"))
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("SYSKEYS_LOG_LEVEL has invalid value %q", logLevel)
	}

	logFormat := strings.ToLower(envOr("SYSKEYS_LOG_FORMAT", "text"))
	if logFormat != "text" && logFormat != "json" {
		return nil, fmt.Errorf("SYSKEYS_LOG_FORMAT has invalid value %q", logFormat)
	}

	return &Config{
		Environment:         env,
		ListenAddr:          listenAddr,
		DBPath:              dbPath,
		SecretKey:           secretKey,
		SecretPassphrase:    passphrase,
		SecretSalt:          salt,
		CacheTTL:            cacheTTL,
		StoreTimeout:        storeTimeout,
		AdminToken:          os.Getenv("SYSKEYS_ADMIN_TOKEN"),
		RedisURL:            os.Getenv("SYSKEYS_REDIS_URL"),
		MaintenanceSchedule: schedule,
		LogLevel:            logLevel,
		LogFormat:           logFormat,
	}, nil
}

func parseEnvironment(v string) (model.Environment, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if env, ok := environmentAliases[v]; ok {
		return env, nil
	}
	return model.ParseEnvironment(v)
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return parsed, nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
