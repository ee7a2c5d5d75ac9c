package redisnonce

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"visitasegura/go-backend/internal/requestauth"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := New(client, "test:nonce:", time.Minute)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, mr
}

func TestStoreInsertOnlyOnce(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Insert(ctx, "abc123xyz9", time.UnixMilli(1000))
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = s.Insert(ctx, "abc123xyz9", time.UnixMilli(2000))
	if err != nil || ok {
		t.Fatalf("second insert: ok=%v err=%v", ok, err)
	}
	found, err := s.Contains(ctx, "abc123xyz9")
	if err != nil || !found {
		t.Fatalf("contains: found=%v err=%v", found, err)
	}
	if got, _ := mr.Get("test:nonce:abc123xyz9"); got != "1000" {
		t.Fatalf("unexpected stored first-seen value %q", got)
	}
}

func TestStoreRetentionExpiresKeys(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Insert(ctx, "expiring-nonce", time.Now()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ttl := mr.TTL("test:nonce:expiring-nonce"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	mr.FastForward(time.Minute + time.Second)
	found, err := s.Contains(ctx, "expiring-nonce")
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if found {
		t.Fatal("expected nonce to expire with its key")
	}
	if removed, err := s.Sweep(ctx, time.Now()); err != nil || removed != 0 {
		t.Fatalf("sweep must be a no-op, removed=%d err=%v", removed, err)
	}
}

func TestStoreErrorsWhenRedisIsDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	if _, err := s.Contains(context.Background(), "whatever-nonce"); err == nil {
		t.Fatal("expected error from closed redis")
	}
}

func TestAuthenticatorsShareReplayProtection(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.UnixMilli(500_000)
	newAuth := func() *requestauth.Authenticator {
		a, err := requestauth.New(requestauth.Config{
			Secret: []byte("shared-secret"),
			Store:  s,
			Now:    func() time.Time { return now },
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		if err != nil {
			t.Fatalf("new authenticator: %v", err)
		}
		return a
	}
	first, second := newAuth(), newAuth()

	fields := requestauth.Fields{Action: requestauth.String("entrada")}
	env := first.Signer().SignAt(fields, now.UnixMilli(), "cross-instance-1")
	h := http.Header{}
	env.Apply(h)
	req := requestauth.Request{Method: http.MethodPost, Header: h, Fields: fields}

	if res := first.Verify(context.Background(), req); !res.Accepted {
		t.Fatalf("first instance rejected: %q", res.Reason)
	}
	if res := second.Verify(context.Background(), req); res.Reason != requestauth.ReasonNonceReused {
		t.Fatalf("second instance must see replay, got %q", res.Reason)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, "", time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := New(client, "", 0); err == nil {
		t.Fatal("expected error for zero retention")
	}
	s, err := New(client, "  ", time.Second)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.key("n") != DefaultKeyPrefix+"n" {
		t.Fatalf("unexpected key %q", s.key("n"))
	}
}
