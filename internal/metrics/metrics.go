// Package metrics exposes Prometheus collectors for request verification,
// nonce retention, cipher operations and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"visitasegura/go-backend/internal/requestauth"
	"visitasegura/go-backend/internal/securestore"
)

const namespace = "visitasegura"

type Metrics struct {
	verifications   *prometheus.CounterVec
	sweeps          prometheus.Counter
	sweptNonces     prometheus.Counter
	cipherOps       *prometheus.CounterVec
	rateLimited     prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

var (
	_ requestauth.Observer = (*Metrics)(nil)
	_ securestore.Observer = (*Metrics)(nil)
)

// New builds the collectors and registers them on reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the default registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_verifications_total",
			Help:      "Signed request verifications by outcome and reason code.",
		}, []string{"outcome", "reason"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_sweeps_total",
			Help:      "Completed nonce store sweeps.",
		}),
		sweptNonces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_swept_total",
			Help:      "Nonces removed from the store after their retention elapsed.",
		}),
		cipherOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cipher_operations_total",
			Help:      "Cipher operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests refused because the client exceeded its rejection budget.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route template and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	for _, c := range []prometheus.Collector{
		m.verifications,
		m.sweeps,
		m.sweptNonces,
		m.cipherOps,
		m.rateLimited,
		m.requestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterRuntime adds the Go runtime and process collectors to reg.
func RegisterRuntime(reg prometheus.Registerer) error {
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func (m *Metrics) RecordVerification(outcome, reason string) {
	if reason == "" {
		reason = "none"
	}
	m.verifications.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) RecordNonceSweep(removed int) {
	m.sweeps.Inc()
	if removed > 0 {
		m.sweptNonces.Add(float64(removed))
	}
}

func (m *Metrics) RecordCipherOperation(operation, outcome string) {
	m.cipherOps.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
