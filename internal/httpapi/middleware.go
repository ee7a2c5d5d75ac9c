package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"visitasegura/go-backend/internal/platform/privacylog"
	"visitasegura/go-backend/internal/requestauth"
)

const HeaderRequestID = "X-Request-ID"

type verifiedPayloadKey struct{}

// VerifiedPayload returns the canonical payload attached by the signature
// middleware. ok is false for safe-method requests, which are not verified.
func VerifiedPayload(ctx context.Context) (requestauth.Payload, bool) {
	p, ok := ctx.Value(verifiedPayloadKey{}).(requestauth.Payload)
	return p, ok
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(privacylog.WithRequestID(r.Context(), id)))
	})
}

type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if p.any {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	_, ok := p.allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	allowHeaders := strings.Join(append([]string{"Content-Type", "Accept", HeaderRequestID}, requestauth.RequiredHeaders()...), ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			if !s.origins.allows(origin) {
				writeJSON(w, http.StatusForbidden, errorBody("Origen no permitido"))
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Expose-Headers", HeaderRequestID)
		}
		w.Header().Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, r.Method, rec.status, elapsed)
		}
		s.logger.DebugContext(r.Context(), "request served",
			"component", "httpapi",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// protect verifies the signature envelope of state-changing requests and
// restores the body for the wrapped handler.
func (s *Server) protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requestauth.IsMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		client := clientKey(r)
		now := s.now()
		if s.limiter.Throttled(client, now) {
			if s.metrics != nil {
				s.metrics.RecordRateLimited()
			}
			s.logger.WarnContext(r.Context(), "client throttled after repeated rejections",
				"component", "httpapi",
				"client_ip", client,
			)
			writeJSON(w, http.StatusTooManyRequests, errorBody("Demasiadas solicitudes rechazadas"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("Cuerpo demasiado grande"))
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody("No se pudo leer el cuerpo"))
			return
		}
		if body == nil {
			body = []byte{}
		}

		res := s.auth.Verify(r.Context(), requestauth.Request{
			Method: r.Method,
			Header: r.Header,
			Body:   body,
		})
		if !res.Accepted {
			s.limiter.Penalize(client, now)
			writeRejection(w, res.Reason)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), verifiedPayloadKey{}, res.Payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeRejection(w http.ResponseWriter, reason requestauth.Reason) {
	if reason == requestauth.ReasonMissingHeaders {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":      "Headers de seguridad requeridos",
			"detalle":    string(reason),
			"requeridos": requestauth.RequiredHeaders(),
		})
		return
	}
	status := http.StatusUnauthorized
	if reason == requestauth.ReasonStoreUnavailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"error":   "Solicitud rechazada por seguridad",
		"detalle": string(reason),
	})
}

func clientKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
