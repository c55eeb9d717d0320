package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// CipherKeySize is the required symmetric key length for token encryption.
const CipherKeySize = 32

// Global singleton for backwards compatibility with process-wide accessors
var globalConfig *Config

// Config holds all environment backed configuration for token-api.
type Config struct {
	// HTTP Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9091"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Token encryption. The key is supplied base64 encoded and must decode to
	// exactly 32 bytes; anything else aborts startup.
	CipherKeyBase64 string `env:"VCU_CIPHER_KEY,notEmpty"`

	// Default token policy applied when the caller does not supply one.
	DefaultQuota      int64         `env:"DEFAULT_QUOTA" envDefault:"1000"`
	DefaultRateLimit  int64         `env:"DEFAULT_RATE_LIMIT" envDefault:"60"`
	DefaultRateWindow time.Duration `env:"DEFAULT_RATE_WINDOW" envDefault:"1m"`
	DefaultTokenTTL   time.Duration `env:"DEFAULT_TOKEN_TTL" envDefault:"24h"`

	// Rotation backoff policy surfaced to callers after provider failures.
	RotationBackoffBase time.Duration `env:"ROTATION_BACKOFF_BASE" envDefault:"500ms"`
	RotationBackoffCap  time.Duration `env:"ROTATION_BACKOFF_CAP" envDefault:"30s"`

	// External VCU provider
	ProviderBaseURL string        `env:"VCU_PROVIDER_URL,notEmpty"`
	ProviderAPIKey  string        `env:"VCU_PROVIDER_API_KEY"`
	ProviderTimeout time.Duration `env:"VCU_PROVIDER_TIMEOUT" envDefault:"10s"`

	// HTTP edge rate limiting (per client, requests per minute)
	HTTPRateLimitPerMinute float64 `env:"HTTP_RATE_LIMIT_PER_MINUTE" envDefault:"300"`

	// Observability / Logging
	ServiceName string `env:"SERVICE_NAME" envDefault:"token-api"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`

	// Features
	AutoMigrate bool `env:"AUTO_MIGRATE" envDefault:"true"`

	cipherKey []byte
}

// Load parses environment variables into Config and performs minimal validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.CipherKeyBase64))
	if err != nil {
		return nil, fmt.Errorf("decode VCU_CIPHER_KEY: %w", err)
	}
	if len(key) != CipherKeySize {
		return nil, fmt.Errorf("VCU_CIPHER_KEY must decode to %d bytes, got %d", CipherKeySize, len(key))
	}
	cfg.cipherKey = key

	if _, err := url.ParseRequestURI(cfg.ProviderBaseURL); err != nil {
		return nil, fmt.Errorf("invalid VCU_PROVIDER_URL: %w", err)
	}

	if cfg.DefaultQuota <= 0 {
		return nil, errors.New("DEFAULT_QUOTA must be positive")
	}
	if cfg.DefaultRateLimit <= 0 {
		return nil, errors.New("DEFAULT_RATE_LIMIT must be positive")
	}
	if cfg.DefaultRateWindow <= 0 {
		return nil, errors.New("DEFAULT_RATE_WINDOW must be positive")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	globalConfig = cfg

	return cfg, nil
}

// CipherKey returns the decoded symmetric key. It satisfies the cipher
// package's KeyProvider so the config can be injected directly.
func (c *Config) CipherKey() ([]byte, error) {
	if len(c.cipherKey) != CipherKeySize {
		return nil, errors.New("cipher key not loaded")
	}
	return c.cipherKey, nil
}

// GetGlobal returns the global config instance for backwards compatibility.
// Deprecated: Use dependency injection with Load() instead.
func GetGlobal() *Config {
	return globalConfig
}

var Version = "dev"

func IsDev() bool {
	return strings.HasPrefix(Version, "dev")
}
