package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"visitasegura/go-backend/internal/requestauth"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	return m, reg
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	_, reg := newTestMetrics(t)
	if _, err := New(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestAuthenticatorOutcomesAreCounted(t *testing.T) {
	m, _ := newTestMetrics(t)
	now := time.UnixMilli(1_000_000)
	a, err := requestauth.New(requestauth.Config{
		Secret:   []byte("metrics-secret"),
		Now:      func() time.Time { return now },
		Observer: m,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	fields := requestauth.Fields{Action: requestauth.String("entrada")}
	env := a.Signer().SignAt(fields, now.UnixMilli(), "metrics-nonce-1")
	h := http.Header{}
	env.Apply(h)
	req := requestauth.Request{Method: http.MethodPost, Header: h, Fields: fields}

	ctx := context.Background()
	a.Verify(ctx, req)
	a.Verify(ctx, req)
	a.Verify(ctx, requestauth.Request{Method: http.MethodGet})
	a.Verify(ctx, requestauth.Request{Method: http.MethodPost, Header: http.Header{}})

	cases := []struct {
		outcome, reason string
		want            float64
	}{
		{"accepted", "none", 1},
		{"rejected", string(requestauth.ReasonNonceReused), 1},
		{"rejected", string(requestauth.ReasonMissingHeaders), 1},
		{"bypassed", "none", 1},
	}
	for _, tc := range cases {
		got := testutil.ToFloat64(m.verifications.WithLabelValues(tc.outcome, tc.reason))
		if got != tc.want {
			t.Fatalf("%s/%s: got %v want %v", tc.outcome, tc.reason, got, tc.want)
		}
	}
}

func TestSweepAndCipherCounters(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordNonceSweep(0)
	m.RecordNonceSweep(3)
	if got := testutil.ToFloat64(m.sweeps); got != 2 {
		t.Fatalf("sweeps: got %v", got)
	}
	if got := testutil.ToFloat64(m.sweptNonces); got != 3 {
		t.Fatalf("swept nonces: got %v", got)
	}
	m.RecordCipherOperation("encrypt", "ok")
	m.RecordCipherOperation("decrypt", "rejected")
	m.RecordCipherOperation("decrypt", "rejected")
	if got := testutil.ToFloat64(m.cipherOps.WithLabelValues("decrypt", "rejected")); got != 2 {
		t.Fatalf("cipher decrypt rejected: got %v", got)
	}
	m.RecordRateLimited()
	if got := testutil.ToFloat64(m.rateLimited); got != 1 {
		t.Fatalf("rate limited: got %v", got)
	}
}

func TestObserveRequestUsesRouteTemplate(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ObserveRequest("/api/cifrado/descifrar", http.MethodPost, 422, 15*time.Millisecond)
	if n := testutil.CollectAndCount(m.requestDuration); n != 1 {
		t.Fatalf("expected one series, got %d", n)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "visitasegura_http_request_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Fatal("histogram not gathered from registry")
	}
}
