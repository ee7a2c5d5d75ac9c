package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var envKeys = []string{
	"VISITA_ENV", "HASH_SECRET", "VISITA_HASH_SECRET", "VISITA_HASH_DERIVE_KEY",
	"VISITA_HTTP_ADDR", "VISITA_ALLOWED_ORIGINS", "VISITA_AES_KEY_PATH",
	"VISITA_AES_KEY_PASSPHRASE", "VISITA_CIPHER_ALGORITHM", "VISITA_NONCE_STORE",
	"VISITA_REDIS_ADDR", "VISITA_REDIS_PASSWORD", "VISITA_REDIS_DB",
	"VISITA_RATE_LIMIT_ENABLED", "VISITA_RATE_LIMIT_RPS", "VISITA_RATE_LIMIT_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.Auth.FreshnessWindow != 30*time.Second || cfg.Auth.MinNonceLength != 10 || cfg.HTTP.Addr != "127.0.0.1:3001" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
http:
  addr: 0.0.0.0:8080
auth:
  freshnessWindow: 45s
  deriveKey: true
cipher:
  algorithm: chacha20-poly1305
redis:
  db: 3
rateLimit:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != "0.0.0.0:8080" || cfg.Auth.FreshnessWindow != 45*time.Second || !cfg.Auth.DeriveKey {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Cipher.Algorithm != "chacha20-poly1305" || cfg.Redis.DB != 3 || cfg.RateLimit.Enabled {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Auth.ClockSkew != 5*time.Second || cfg.Cipher.KeyPath != "claves/aes.key" {
		t.Fatalf("unset keys must keep defaults: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "http:\n  addr: 0.0.0.0:8080\n")
	t.Setenv("VISITA_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("HASH_SECRET", "from-frontend-build")
	t.Setenv("VISITA_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("VISITA_NONCE_STORE", "REDIS")
	t.Setenv("VISITA_REDIS_DB", "2")
	t.Setenv("VISITA_RATE_LIMIT_RPS", "1.5")
	t.Setenv("VISITA_RATE_LIMIT_BURST", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9999" || cfg.Auth.Secret != "from-frontend-build" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.HTTP.AllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Auth.NonceStore != NonceStoreRedis || cfg.Redis.DB != 2 || cfg.RateLimit.RPS != 1.5 || cfg.RateLimit.Burst != 20 {
		t.Fatalf("unexpected values: %+v", cfg)
	}

	t.Setenv("VISITA_HASH_SECRET", "visita-specific")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != "visita-specific" {
		t.Fatalf("VISITA_HASH_SECRET must win over HASH_SECRET, got %q", cfg.Auth.Secret)
	}
}

func TestProductionRefusesDefaultSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("VISITA_ENV", "production")
	if _, err := Load(""); !errors.Is(err, ErrInsecureSigningSecret) {
		t.Fatalf("expected ErrInsecureSigningSecret, got %v", err)
	}
	t.Setenv("HASH_SECRET", "a-real-deployment-secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() || cfg.UsesDefaultSecret() {
		t.Fatalf("unexpected state: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing explicit file, got %v", err)
	}
	if _, err := Load(writeConfig(t, "http: [unterminated")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad yaml, got %v", err)
	}
	if _, err := Load(writeConfig(t, "auth:\n  nonceStore: etcd\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown store, got %v", err)
	}
}
