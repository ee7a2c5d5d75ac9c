// Package visitaserver wires configuration, logging, the nonce store, the
// cipher and the HTTP server into one runnable unit.
package visitaserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"visitasegura/go-backend/internal/config"
	"visitasegura/go-backend/internal/httpapi"
	"visitasegura/go-backend/internal/metrics"
	"visitasegura/go-backend/internal/platform/privacylog"
	"visitasegura/go-backend/internal/platform/ratelimiter"
	"visitasegura/go-backend/internal/requestauth"
	"visitasegura/go-backend/internal/requestauth/redisnonce"
	"visitasegura/go-backend/internal/securestore"
)

const redisPingTimeout = 3 * time.Second

type Runtime struct {
	Server        *httpapi.Server
	Authenticator *requestauth.Authenticator
	Cipher        *securestore.Cipher
	Registry      *prometheus.Registry

	logger  *slog.Logger
	closers []func() error
	once    sync.Once
}

// DefaultLogger writes JSON records to stdout.
func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// NewRuntime builds every component described by cfg. A Redis nonce store
// is pinged before use so a misconfigured address fails at startup.
func NewRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = DefaultLogger()
	}
	logger = slog.New(privacylog.WrapHandler(logger.Handler()))
	rt := &Runtime{logger: logger, Registry: prometheus.NewRegistry()}

	if err := metrics.RegisterRuntime(rt.Registry); err != nil {
		return nil, err
	}
	m, err := metrics.New(rt.Registry)
	if err != nil {
		return nil, err
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("using the development signing secret; set HASH_SECRET outside development",
			"component", "visitaserver",
		)
	}

	store, err := rt.nonceStore(ctx, cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Authenticator, err = requestauth.New(requestauth.Config{
		Secret:          []byte(cfg.Auth.Secret),
		DeriveKey:       cfg.Auth.DeriveKey,
		FreshnessWindow: cfg.Auth.FreshnessWindow,
		ClockSkew:       cfg.Auth.ClockSkew,
		MinNonceLength:  cfg.Auth.MinNonceLength,
		SweepInterval:   cfg.Auth.SweepInterval,
		Store:           store,
		Logger:          logger,
		Observer:        m,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Cipher, err = securestore.Bootstrap(
		securestore.KeySource{
			Path:       cfg.Cipher.KeyPath,
			Passphrase: cfg.Cipher.KeyPassphrase,
			Logger:     logger,
		},
		securestore.WithAlgorithm(cfg.Cipher.Algorithm),
		securestore.WithScannableMaxAge(cfg.Cipher.ScannableMaxAge),
		securestore.WithLogger(logger),
		securestore.WithObserver(m),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	var limiter *ratelimiter.MapLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
	}
	rt.Server, err = httpapi.NewServer(httpapi.Options{
		Addr:           cfg.HTTP.Addr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Authenticator:  rt.Authenticator,
		Cipher:         rt.Cipher,
		Limiter:        limiter,
		Metrics:        m,
		Gatherer:       rt.Registry,
		Logger:         logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Info("runtime ready",
		"component", "visitaserver",
		"nonce_store", cfg.Auth.NonceStore,
		"algorithm", rt.Cipher.Algorithm(),
		"freshness_window", rt.Authenticator.FreshnessWindow().String(),
	)
	return rt, nil
}

func (rt *Runtime) nonceStore(ctx context.Context, cfg config.Config) (requestauth.NonceStore, error) {
	if cfg.Auth.NonceStore != config.NonceStoreRedis {
		return requestauth.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rt.closers = append(rt.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis nonce store unreachable at %s: %w", cfg.Redis.Addr, err)
	}
	window := cfg.Auth.FreshnessWindow
	if window <= 0 {
		window = requestauth.DefaultFreshnessWindow
	}
	return redisnonce.New(client, cfg.Redis.KeyPrefix, 2*window)
}

// Run starts the nonce sweeper and serves HTTP until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.Authenticator.RunSweeper(sweepCtx)
	}()

	err := rt.Server.Run(ctx)
	cancel()
	wg.Wait()
	return errors.Join(err, rt.Close())
}

func (rt *Runtime) Close() error {
	var err error
	rt.once.Do(func() {
		for i := len(rt.closers) - 1; i >= 0; i-- {
			err = errors.Join(err, rt.closers[i]())
		}
	})
	return err
}
