// Package config loads server settings from an optional YAML file and
// VISITA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSigningSecret = "clave-secreta-visitasegura-2025"

	NonceStoreMemory = "memory"
	NonceStoreRedis  = "redis"
)

var (
	ErrInsecureSigningSecret = errors.New("default signing secret is forbidden in production")
	ErrInvalidConfig         = errors.New("invalid configuration")
)

type Config struct {
	Env       string
	HTTP      HTTPConfig
	Auth      AuthConfig
	Cipher    CipherConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type AuthConfig struct {
	Secret          string
	DeriveKey       bool
	FreshnessWindow time.Duration
	ClockSkew       time.Duration
	MinNonceLength  int
	SweepInterval   time.Duration
	NonceStore      string
}

type CipherConfig struct {
	KeyPath         string
	KeyPassphrase   string
	Algorithm       string
	ScannableMaxAge time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

func Default() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:           "127.0.0.1:3001",
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Auth: AuthConfig{
			Secret:          DefaultSigningSecret,
			FreshnessWindow: 30 * time.Second,
			ClockSkew:       5 * time.Second,
			MinNonceLength:  10,
			SweepInterval:   60 * time.Second,
			NonceStore:      NonceStoreMemory,
		},
		Cipher: CipherConfig{
			KeyPath:         "claves/aes.key",
			Algorithm:       "aes-256-gcm",
			ScannableMaxAge: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "visitasegura:nonce:",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     5,
			Burst:   20,
		},
	}
}

// fileConfig mirrors configs/config.yaml. Pointer fields distinguish an
// explicit false from an absent key. Secrets are only read from env.
type fileConfig struct {
	Env  string `yaml:"env"`
	HTTP struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"http"`
	Auth struct {
		DeriveKey       *bool         `yaml:"deriveKey"`
		FreshnessWindow time.Duration `yaml:"freshnessWindow"`
		ClockSkew       time.Duration `yaml:"clockSkew"`
		MinNonceLength  int           `yaml:"minNonceLength"`
		SweepInterval   time.Duration `yaml:"sweepInterval"`
		NonceStore      string        `yaml:"nonceStore"`
	} `yaml:"auth"`
	Cipher struct {
		KeyPath         string        `yaml:"keyPath"`
		Algorithm       string        `yaml:"algorithm"`
		ScannableMaxAge time.Duration `yaml:"scannableMaxAge"`
	} `yaml:"cipher"`
	Redis struct {
		Addr      string `yaml:"addr"`
		DB        *int   `yaml:"db"`
		KeyPrefix string `yaml:"keyPrefix"`
	} `yaml:"redis"`
	RateLimit struct {
		Enabled *bool   `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"rateLimit"`
}

// Load reads the first readable candidate file, merges it over the defaults
// and applies env overrides. An explicit path that cannot be read or parsed
// is an error; missing default candidates are not. A validation failure
// still returns the merged config alongside the error.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := []string{"configs/config.yaml", "go-backend/configs/config.yaml"}
	if path != "" {
		candidates = []string{path}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if path != "" {
				return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, p, err)
			}
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, p, err)
		}
		merge(&cfg, parsed)
		break
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func merge(dst *Config, src fileConfig) {
	if src.Env != "" {
		dst.Env = src.Env
	}
	if src.HTTP.Addr != "" {
		dst.HTTP.Addr = src.HTTP.Addr
	}
	if src.HTTP.AllowedOrigins != nil {
		dst.HTTP.AllowedOrigins = src.HTTP.AllowedOrigins
	}
	if src.Auth.DeriveKey != nil {
		dst.Auth.DeriveKey = *src.Auth.DeriveKey
	}
	if src.Auth.FreshnessWindow != 0 {
		dst.Auth.FreshnessWindow = src.Auth.FreshnessWindow
	}
	if src.Auth.ClockSkew != 0 {
		dst.Auth.ClockSkew = src.Auth.ClockSkew
	}
	if src.Auth.MinNonceLength != 0 {
		dst.Auth.MinNonceLength = src.Auth.MinNonceLength
	}
	if src.Auth.SweepInterval != 0 {
		dst.Auth.SweepInterval = src.Auth.SweepInterval
	}
	if src.Auth.NonceStore != "" {
		dst.Auth.NonceStore = src.Auth.NonceStore
	}
	if src.Cipher.KeyPath != "" {
		dst.Cipher.KeyPath = src.Cipher.KeyPath
	}
	if src.Cipher.Algorithm != "" {
		dst.Cipher.Algorithm = src.Cipher.Algorithm
	}
	if src.Cipher.ScannableMaxAge != 0 {
		dst.Cipher.ScannableMaxAge = src.Cipher.ScannableMaxAge
	}
	if src.Redis.Addr != "" {
		dst.Redis.Addr = src.Redis.Addr
	}
	if src.Redis.DB != nil {
		dst.Redis.DB = *src.Redis.DB
	}
	if src.Redis.KeyPrefix != "" {
		dst.Redis.KeyPrefix = src.Redis.KeyPrefix
	}
	if src.RateLimit.Enabled != nil {
		dst.RateLimit.Enabled = *src.RateLimit.Enabled
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := envString("VISITA_ENV"); v != "" {
		cfg.Env = v
	}
	// HASH_SECRET is the variable name the frontend build shares.
	if v := envString("HASH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := envString("VISITA_HASH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	cfg.Auth.DeriveKey = envBoolWithFallback("VISITA_HASH_DERIVE_KEY", cfg.Auth.DeriveKey)
	if v := envString("VISITA_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := envCSV("VISITA_ALLOWED_ORIGINS"); v != nil {
		cfg.HTTP.AllowedOrigins = v
	}
	if v := envString("VISITA_AES_KEY_PATH"); v != "" {
		cfg.Cipher.KeyPath = v
	}
	if v := envString("VISITA_AES_KEY_PASSPHRASE"); v != "" {
		cfg.Cipher.KeyPassphrase = v
	}
	if v := envString("VISITA_CIPHER_ALGORITHM"); v != "" {
		cfg.Cipher.Algorithm = v
	}
	if v := envString("VISITA_NONCE_STORE"); v != "" {
		cfg.Auth.NonceStore = strings.ToLower(v)
	}
	if v := envString("VISITA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := envString("VISITA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	cfg.Redis.DB = envIntWithFallback("VISITA_REDIS_DB", cfg.Redis.DB)
	cfg.RateLimit.Enabled = envBoolWithFallback("VISITA_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RPS = envFloatWithFallback("VISITA_RATE_LIMIT_RPS", cfg.RateLimit.RPS)
	cfg.RateLimit.Burst = envIntWithFallback("VISITA_RATE_LIMIT_BURST", cfg.RateLimit.Burst)
}

func (c Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// UsesDefaultSecret reports whether the shared development secret is active.
func (c Config) UsesDefaultSecret() bool {
	return c.Auth.Secret == DefaultSigningSecret
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("%w: signing secret is empty", ErrInvalidConfig)
	}
	if c.IsProduction() && c.UsesDefaultSecret() {
		return fmt.Errorf("%w: set HASH_SECRET or VISITA_HASH_SECRET", ErrInsecureSigningSecret)
	}
	if c.Auth.FreshnessWindow <= 0 {
		return fmt.Errorf("%w: freshness window must be positive", ErrInvalidConfig)
	}
	switch c.Auth.NonceStore {
	case NonceStoreMemory:
	case NonceStoreRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("%w: redis nonce store requires an address", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown nonce store %q", ErrInvalidConfig, c.Auth.NonceStore)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("%w: rate limit rps and burst must be positive", ErrInvalidConfig)
	}
	return nil
}
