package requestauth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrEmptyNonce = errors.New("nonce is required")

// NonceStore remembers nonces of accepted requests.
//
// Insert must be atomic: when two callers race on the same nonce exactly one
// of them gets true. Sweep deletes records first seen strictly before cutoff.
type NonceStore interface {
	Contains(ctx context.Context, nonce string) (bool, error)
	Insert(ctx context.Context, nonce string, at time.Time) (bool, error)
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is a process-local NonceStore.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (s *MemoryStore) Contains(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[nonce]
	return ok, nil
}

func (s *MemoryStore) Insert(_ context.Context, nonce string, at time.Time) (bool, error) {
	if nonce == "" {
		return false, ErrEmptyNonce
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.seen[nonce]; exists {
		return false, nil
	}
	s.seen[nonce] = at.UTC()
	return true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for nonce, firstSeen := range s.seen {
		if firstSeen.Before(cutoff) {
			delete(s.seen, nonce)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many nonces are currently retained.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
