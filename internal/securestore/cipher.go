package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	AlgorithmAES256GCM        = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 = "chacha20-poly1305"

	KeySize = 32
	ivSize  = 12
	// Envelopes written before IVs were shortened to 96 bits used 16-byte GCM IVs.
	legacyGCMIVSize = 16
)

var (
	ErrDecryption           = errors.New("securestore decryption failed")
	ErrMalformedEnvelope    = errors.New("securestore envelope is malformed")
	ErrExpiredScannable     = errors.New("securestore scannable payload is expired")
	ErrKeyBootstrap         = errors.New("securestore key bootstrap failed")
	ErrInvalidKeyLength     = errors.New("securestore key must be 32 bytes")
	ErrUnsupportedAlgorithm = errors.New("securestore algorithm is not supported")
)

// Envelope is the output of one AEAD encryption.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
	Algorithm  string
}

// Observer receives cipher operation outcomes, typically for metrics.
type Observer interface {
	RecordCipherOperation(operation, outcome string)
}

// Cipher encrypts structured values for storage and transport. It is safe
// for concurrent use; the key is read-only after construction.
type Cipher struct {
	key             []byte
	algorithm       string
	sealer          cipher.AEAD
	rand            io.Reader
	now             func() time.Time
	maxScannableAge time.Duration
	logger          *slog.Logger
	observer        Observer
}

type Option func(*Cipher)

func WithAlgorithm(name string) Option {
	return func(c *Cipher) { c.algorithm = strings.ToLower(strings.TrimSpace(name)) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cipher) { c.now = now }
}

func WithRand(r io.Reader) Option {
	return func(c *Cipher) { c.rand = r }
}

func WithScannableMaxAge(d time.Duration) Option {
	return func(c *Cipher) { c.maxScannableAge = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cipher) { c.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(c *Cipher) { c.observer = o }
}

// New returns a Cipher over a 32-byte key. The default algorithm is AES-256-GCM.
func New(key []byte, opts ...Option) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	c := &Cipher{
		key:             append([]byte(nil), key...),
		algorithm:       AlgorithmAES256GCM,
		rand:            rand.Reader,
		now:             time.Now,
		maxScannableAge: DefaultScannableMaxAge,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.algorithm == "" {
		c.algorithm = AlgorithmAES256GCM
	}
	sealer, err := newAEAD(c.algorithm, c.key, ivSize)
	if err != nil {
		return nil, err
	}
	c.sealer = sealer
	return c, nil
}

// Bootstrap loads or creates the key described by src and builds a Cipher on it.
func Bootstrap(src KeySource, opts ...Option) (*Cipher, error) {
	key, err := src.LoadOrCreate()
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)
	return New(key, opts...)
}

func (c *Cipher) Algorithm() string {
	return c.algorithm
}

func (c *Cipher) KeyLength() int {
	return len(c.key)
}

// Encrypt serialises v as JSON and seals it under a fresh random IV.
func (c *Cipher) Encrypt(v any) (Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		c.record("encrypt", "error")
		return Envelope{}, fmt.Errorf("securestore marshal plaintext: %w", err)
	}
	env, err := c.seal(plaintext)
	if err != nil {
		c.record("encrypt", "error")
		return Envelope{}, err
	}
	c.record("encrypt", "ok")
	return env, nil
}

func (c *Cipher) seal(plaintext []byte) (Envelope, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return Envelope{}, err
	}
	sealed := c.sealer.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - c.sealer.Overhead()
	return Envelope{
		Ciphertext: sealed[:split:split],
		IV:         iv,
		AuthTag:    sealed[split:],
		Algorithm:  c.algorithm,
	}, nil
}

// Decrypt opens env and decodes the JSON plaintext into out. Every failure
// is reported as ErrDecryption without further detail.
func (c *Cipher) Decrypt(env Envelope, out any) error {
	plaintext, err := c.open(env)
	if err != nil {
		c.record("decrypt", "rejected")
		return ErrDecryption
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		c.record("decrypt", "rejected")
		return ErrDecryption
	}
	c.record("decrypt", "ok")
	return nil
}

func (c *Cipher) open(env Envelope) ([]byte, error) {
	aead, err := newAEAD(env.Algorithm, c.key, len(env.IV))
	if err != nil {
		return nil, err
	}
	if len(env.AuthTag) != aead.Overhead() {
		return nil, ErrDecryption
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.AuthTag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)
	return aead.Open(nil, env.IV, sealed, nil)
}

func newAEAD(algorithm string, key []byte, nonceSize int) (cipher.AEAD, error) {
	switch algorithm {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		switch nonceSize {
		case ivSize:
			return cipher.NewGCM(block)
		case legacyGCMIVSize:
			return cipher.NewGCMWithNonceSize(block, legacyGCMIVSize)
		default:
			return nil, ErrDecryption
		}
	case AlgorithmChaCha20Poly1305:
		if nonceSize != chacha20poly1305.NonceSize {
			return nil, ErrDecryption
		}
		return chacha20poly1305.New(key)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func (c *Cipher) record(operation, outcome string) {
	if c.observer != nil {
		c.observer.RecordCipherOperation(operation, outcome)
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
