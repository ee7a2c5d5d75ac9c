package requestauth

import "errors"

// Reason is the stable code attached to a verification outcome.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonMissingHeaders    Reason = "MISSING_HEADERS"
	ReasonInvalidTimestamp  Reason = "INVALID_TIMESTAMP"
	ReasonExpired           Reason = "EXPIRED"
	ReasonFutureTimestamp   Reason = "FUTURE_TIMESTAMP"
	ReasonInvalidNonce      Reason = "INVALID_NONCE"
	ReasonNonceReused       Reason = "NONCE_REUSED"
	ReasonSignatureMismatch Reason = "SIGNATURE_MISMATCH"
	ReasonStoreUnavailable  Reason = "NONCE_STORE_UNAVAILABLE"
)

var (
	ErrMissingHeaders    = errors.New("security headers are required")
	ErrInvalidTimestamp  = errors.New("timestamp is not a valid integer")
	ErrExpired           = errors.New("request is expired")
	ErrFutureTimestamp   = errors.New("request timestamp is in the future")
	ErrInvalidNonce      = errors.New("nonce is too short")
	ErrNonceReused       = errors.New("nonce already used")
	ErrSignatureMismatch = errors.New("signature does not match")
	ErrStoreUnavailable  = errors.New("nonce store is unavailable")
)

var reasonErrors = map[Reason]error{
	ReasonMissingHeaders:    ErrMissingHeaders,
	ReasonInvalidTimestamp:  ErrInvalidTimestamp,
	ReasonExpired:           ErrExpired,
	ReasonFutureTimestamp:   ErrFutureTimestamp,
	ReasonInvalidNonce:      ErrInvalidNonce,
	ReasonNonceReused:       ErrNonceReused,
	ReasonSignatureMismatch: ErrSignatureMismatch,
	ReasonStoreUnavailable:  ErrStoreUnavailable,
}

// Result is the outcome of Verify. Payload is only meaningful when Accepted
// is true and Bypassed is false.
type Result struct {
	Accepted bool
	Bypassed bool
	Reason   Reason
	Payload  Payload
}

// Err returns the sentinel error for a rejection, or nil when accepted.
func (r Result) Err() error {
	if r.Accepted {
		return nil
	}
	if err, ok := reasonErrors[r.Reason]; ok {
		return err
	}
	return ErrSignatureMismatch
}

func (r Result) outcome() string {
	switch {
	case r.Bypassed:
		return "bypassed"
	case r.Accepted:
		return "accepted"
	default:
		return "rejected"
	}
}

func reject(reason Reason) Result {
	return Result{Reason: reason}
}
