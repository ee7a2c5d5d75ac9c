package requestauth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	DefaultFreshnessWindow = 30 * time.Second
	DefaultClockSkew       = 5 * time.Second
	DefaultMinNonceLength  = 10
	DefaultSweepInterval   = 60 * time.Second

	nonceBytes     = 16
	derivedKeyInfo = "visitasegura/request-signing"
	componentName  = "requestauth"
)

var ErrEmptySecret = errors.New("signing secret is required")

// Observer receives verification and sweep outcomes, typically for metrics.
type Observer interface {
	RecordVerification(outcome, reason string)
	RecordNonceSweep(removed int)
}

// Config configures an Authenticator. Zero durations and lengths take the
// package defaults; a negative ClockSkew disables future tolerance. A nil
// Store gets a fresh MemoryStore.
type Config struct {
	Secret []byte
	// DeriveKey signs with an HKDF-SHA256 subkey of Secret instead of the raw
	// secret. Both sides must agree.
	DeriveKey       bool
	FreshnessWindow time.Duration
	ClockSkew       time.Duration
	MinNonceLength  int
	SweepInterval   time.Duration
	Store           NonceStore
	Now             func() time.Time
	Rand            io.Reader
	Logger          *slog.Logger
	Observer        Observer
}

// Request is what the HTTP layer hands over for verification.
type Request struct {
	Method string
	Header http.Header
	Fields Fields
	// Body, when non-nil, replaces Fields: it is decoded only after the
	// header, freshness and nonce checks pass, and a body that cannot be
	// decoded fails as a signature mismatch.
	Body []byte
}

// Envelope is a signed request ready to be sent.
type Envelope struct {
	Signature string
	Timestamp int64
	Nonce     string
	Payload   Payload
}

// Apply writes the envelope's security headers onto h.
func (e Envelope) Apply(h http.Header) {
	h.Set(HeaderSignature, e.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(e.Timestamp, 10))
	h.Set(HeaderNonce, e.Nonce)
}

// Signer builds envelopes with the shared signing key.
type Signer struct {
	key  []byte
	now  func() time.Time
	rand io.Reader
}

// Authenticator verifies signed requests and owns the nonce store.
type Authenticator struct {
	signer         *Signer
	window         time.Duration
	skew           time.Duration
	minNonceLength int
	sweepInterval  time.Duration
	store          NonceStore
	now            func() time.Time
	logger         *slog.Logger
	observer       Observer
}

// NewSigner returns a Signer for cfg. Only Secret, DeriveKey, Now and Rand are used.
func NewSigner(cfg Config) (*Signer, error) {
	key, err := signingKey(cfg.Secret, cfg.DeriveKey)
	if err != nil {
		return nil, err
	}
	s := &Signer{key: key, now: cfg.Now, rand: cfg.Rand}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = rand.Reader
	}
	return s, nil
}

// Sign stamps fields with the current time and a fresh random nonce.
func (s *Signer) Sign(fields Fields) (Envelope, error) {
	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return Envelope{}, err
	}
	return s.SignAt(fields, s.now().UnixMilli(), hex.EncodeToString(buf)), nil
}

// SignAt signs fields with an explicit timestamp (ms) and nonce.
func (s *Signer) SignAt(fields Fields, timestamp int64, nonce string) Envelope {
	payload := newPayload(fields, timestamp, nonce)
	return Envelope{
		Signature: hex.EncodeToString(s.mac(payload.Canonical)),
		Timestamp: timestamp,
		Nonce:     nonce,
		Payload:   payload,
	}
}

func (s *Signer) mac(msg []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(msg)
	return h.Sum(nil)
}

func signingKey(secret []byte, derive bool) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if !derive {
		return append([]byte(nil), secret...), nil
	}
	out := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(derivedKeyInfo)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// New builds an Authenticator from cfg.
func New(cfg Config) (*Authenticator, error) {
	signer, err := NewSigner(cfg)
	if err != nil {
		return nil, err
	}
	a := &Authenticator{
		signer:         signer,
		window:         cfg.FreshnessWindow,
		skew:           cfg.ClockSkew,
		minNonceLength: cfg.MinNonceLength,
		sweepInterval:  cfg.SweepInterval,
		store:          cfg.Store,
		now:            signer.now,
		logger:         cfg.Logger,
		observer:       cfg.Observer,
	}
	if a.window <= 0 {
		a.window = DefaultFreshnessWindow
	}
	if a.skew < 0 {
		a.skew = 0
	} else if a.skew == 0 {
		a.skew = DefaultClockSkew
	}
	if a.minNonceLength <= 0 {
		a.minNonceLength = DefaultMinNonceLength
	}
	if a.sweepInterval <= 0 {
		a.sweepInterval = DefaultSweepInterval
	}
	if a.store == nil {
		a.store = NewMemoryStore()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Signer exposes the signer sharing this authenticator's key and clock.
func (a *Authenticator) Signer() *Signer {
	return a.signer
}

// FreshnessWindow reports the configured maximum request age.
func (a *Authenticator) FreshnessWindow() time.Duration {
	return a.window
}

// Verify checks a request's signature, freshness and nonce. Safe methods
// are accepted without inspection. It never panics on malformed input.
func (a *Authenticator) Verify(ctx context.Context, req Request) Result {
	res := a.verify(ctx, req)
	if a.observer != nil {
		a.observer.RecordVerification(res.outcome(), string(res.Reason))
	}
	if !res.Accepted {
		a.logger.Warn("request rejected",
			"component", componentName,
			"operation", "verify",
			"method", req.Method,
			"reason", string(res.Reason),
		)
	}
	return res
}

func (a *Authenticator) verify(ctx context.Context, req Request) Result {
	if !IsMutating(req.Method) {
		return Result{Accepted: true, Bypassed: true}
	}

	signature := headerValue(req.Header, HeaderSignature)
	rawTimestamp := headerValue(req.Header, HeaderTimestamp)
	nonce := headerValue(req.Header, HeaderNonce)
	if signature == "" || rawTimestamp == "" || nonce == "" {
		return reject(ReasonMissingHeaders)
	}

	timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return reject(ReasonInvalidTimestamp)
	}
	now := a.now().UnixMilli()
	// Same as now-timestamp > window, without overflowing on extreme input.
	if timestamp < now-a.window.Milliseconds() {
		return reject(ReasonExpired)
	}
	if timestamp > now+a.skew.Milliseconds() {
		return reject(ReasonFutureTimestamp)
	}
	if len(nonce) < a.minNonceLength {
		return reject(ReasonInvalidNonce)
	}

	seen, err := a.store.Contains(ctx, nonce)
	if err != nil {
		a.logStoreError("contains", err)
		return reject(ReasonStoreUnavailable)
	}
	if seen {
		return reject(ReasonNonceReused)
	}

	fields := req.Fields
	if req.Body != nil {
		decoded, err := DecodeFields(req.Body)
		if err != nil {
			return reject(ReasonSignatureMismatch)
		}
		fields = decoded
	}
	payload := newPayload(fields, timestamp, nonce)
	received, err := hex.DecodeString(signature)
	if err != nil || len(received) != sha256.Size {
		return reject(ReasonSignatureMismatch)
	}
	if !hmac.Equal(a.signer.mac(payload.Canonical), received) {
		return reject(ReasonSignatureMismatch)
	}

	inserted, err := a.store.Insert(ctx, nonce, a.now())
	if err != nil {
		a.logStoreError("insert", err)
		return reject(ReasonStoreUnavailable)
	}
	if !inserted {
		// Lost a race against a concurrent request carrying the same nonce.
		return reject(ReasonNonceReused)
	}
	return Result{Accepted: true, Payload: payload}
}

func (a *Authenticator) logStoreError(op string, err error) {
	a.logger.Error("nonce store failure",
		"component", componentName,
		"operation", op,
		"error", err.Error(),
	)
}

// IsMutating reports whether method requires a signed envelope. Anything that
// is not a known safe method is treated as mutating.
func IsMutating(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

func headerValue(h http.Header, name string) string {
	if h == nil {
		return ""
	}
	return strings.TrimSpace(h.Get(name))
}
