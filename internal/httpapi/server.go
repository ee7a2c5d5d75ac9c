// Package httpapi is the HTTP surface of the check-in backend: it verifies
// signed state-changing requests and exposes the cipher endpoints used by
// the scanner frontend.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visitasegura/go-backend/internal/metrics"
	"visitasegura/go-backend/internal/platform/ratelimiter"
	"visitasegura/go-backend/internal/requestauth"
	"visitasegura/go-backend/internal/securestore"
)

const (
	DefaultAddr         = "127.0.0.1:3001"
	defaultMaxBodyBytes = 1 << 20
)

var ErrMissingDependency = errors.New("httpapi dependency is missing")

type Options struct {
	Addr           string
	AllowedOrigins []string
	Authenticator  *requestauth.Authenticator
	Cipher         *securestore.Cipher
	// Limiter throttles clients that keep failing verification. Nil disables it.
	Limiter *ratelimiter.MapLimiter
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Nil leaves the endpoint unregistered.
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
	Now          func() time.Time
	MaxBodyBytes int64
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler
	auth       *requestauth.Authenticator
	cipher     *securestore.Cipher
	limiter    *ratelimiter.MapLimiter
	metrics    *metrics.Metrics
	origins    originPolicy
	logger     *slog.Logger
	now        func() time.Time
	maxBody    int64
}

func NewServer(opts Options) (*Server, error) {
	if opts.Authenticator == nil || opts.Cipher == nil {
		return nil, ErrMissingDependency
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	s := &Server{
		auth:    opts.Authenticator,
		cipher:  opts.Cipher,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		origins: newOriginPolicy(opts.AllowedOrigins),
		logger:  opts.Logger,
		now:     opts.Now,
		maxBody: opts.MaxBodyBytes,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}

	r := mux.NewRouter()
	r.Use(s.observe)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.protect)
	api.HandleFunc("/cifrado/procesar-qr", s.handleProcessQR).Methods(http.MethodPost)
	api.HandleFunc("/cifrado/descifrar", s.handleDecrypt).Methods(http.MethodPost)
	api.HandleFunc("/cifrado/status", s.handleCipherStatus).Methods(http.MethodGet)
	api.HandleFunc("/cifrado/test", s.handleCipherTest).Methods(http.MethodPost)
	api.HandleFunc("/qr/emitir", s.handleIssueQR).Methods(http.MethodPost)
	api.HandleFunc("/qr/validar", s.handleValidateQR).Methods(http.MethodPost)

	s.handler = s.withRequestID(s.withCORS(r))
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.logger.Info("http server listening", "component", "httpapi", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
