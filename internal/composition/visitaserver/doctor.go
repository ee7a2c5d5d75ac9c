package visitaserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"visitasegura/go-backend/internal/config"
	"visitasegura/go-backend/internal/securestore"
)

type DoctorCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type DoctorReport struct {
	Ready     bool          `json:"ready"`
	Checks    []DoctorCheck `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Doctor inspects cfg and the host without starting the server or creating
// the key file.
func Doctor(ctx context.Context, cfg config.Config, now time.Time) DoctorReport {
	report := DoctorReport{
		Ready:     true,
		Checks:    make([]DoctorCheck, 0, 8),
		CheckedAt: now,
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, DoctorCheck{Name: name, Pass: pass, Reason: failReason(!pass, reason)})
		if !pass {
			report.Ready = false
		}
	}

	if err := cfg.Validate(); err != nil {
		appendCheck("config_valid", false, err.Error())
	} else {
		appendCheck("config_valid", true, "")
	}
	appendCheck("signing_secret_custom", !cfg.UsesDefaultSecret(), "development signing secret is active")

	_, algErr := securestore.New(make([]byte, securestore.KeySize), securestore.WithAlgorithm(cfg.Cipher.Algorithm))
	appendCheck("cipher_algorithm_supported", algErr == nil, fmt.Sprintf("algorithm %q is not supported", cfg.Cipher.Algorithm))

	if err := checkKeyFile(cfg.Cipher.KeyPath); err != nil {
		appendCheck("key_file_private", false, err.Error())
	} else {
		appendCheck("key_file_private", true, "")
	}

	if err := checkAddrAvailable(cfg.HTTP.Addr); err != nil {
		appendCheck("http_addr_available", false, err.Error())
	} else {
		appendCheck("http_addr_available", true, "")
	}

	if cfg.Auth.NonceStore == config.NonceStoreRedis {
		if err := pingRedis(ctx, cfg.Redis); err != nil {
			appendCheck("redis_reachable", false, err.Error())
		} else {
			appendCheck("redis_reachable", true, "")
		}
	}
	return report
}

func failReason(failed bool, reason string) string {
	if !failed {
		return ""
	}
	return reason
}

// checkKeyFile passes when the key file is absent (it will be generated) or
// present with owner-only permissions.
func checkKeyFile(path string) error {
	if strings.TrimSpace(path) == "" {
		path = securestore.DefaultKeyPath
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		dir, dirErr := os.Stat(filepath.Dir(path))
		if dirErr == nil && !dir.IsDir() {
			return fmt.Errorf("key directory %s is not a directory", filepath.Dir(path))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat key file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("key path %s is a directory", path)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("key file %s has permissions %04o, expected 0600", path, perm)
	}
	return nil
}

func checkAddrAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is unavailable: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}

func pingRedis(ctx context.Context, cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	defer client.Close()
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	return client.Ping(pingCtx).Err()
}
