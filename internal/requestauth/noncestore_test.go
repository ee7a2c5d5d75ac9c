package requestauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestMemoryStoreInsertIsCheckAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	at := time.UnixMilli(1000)

	ok, err := s.Insert(ctx, "nonce-1", at)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = s.Insert(ctx, "nonce-1", at.Add(time.Second))
	if err != nil || ok {
		t.Fatalf("second insert must report existing: ok=%v err=%v", ok, err)
	}
	if found, _ := s.Contains(ctx, "nonce-1"); !found {
		t.Fatal("expected nonce to be present")
	}
	if _, err := s.Insert(ctx, "", at); !errors.Is(err, ErrEmptyNonce) {
		t.Fatalf("expected ErrEmptyNonce, got %v", err)
	}
}

func TestMemoryStoreSweepDeletesOnlyStrictlyOlder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cutoff := time.UnixMilli(10_000)
	_, _ = s.Insert(ctx, "old", cutoff.Add(-time.Millisecond))
	_, _ = s.Insert(ctx, "edge", cutoff)
	_, _ = s.Insert(ctx, "new", cutoff.Add(time.Millisecond))

	removed, err := s.Sweep(ctx, cutoff)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 || s.Len() != 2 {
		t.Fatalf("expected one removal and two survivors, got removed=%d len=%d", removed, s.Len())
	}
	if found, _ := s.Contains(ctx, "old"); found {
		t.Fatal("old nonce must be swept")
	}
	if found, _ := s.Contains(ctx, "edge"); !found {
		t.Fatal("nonce exactly at cutoff must survive")
	}
}

func TestSweepOnceUsesTwiceTheFreshnessWindow(t *testing.T) {
	clock := newManualClock(0)
	store := NewMemoryStore()
	obs := &recordingObserver{}
	a, err := New(Config{
		Secret:   []byte(testSecret),
		Now:      clock.Now,
		Store:    store,
		Observer: obs,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	env := a.Signer().SignAt(visitFields(), 0, "sweep-nonce-001")
	if res := a.Verify(context.Background(), signedRequest(env, visitFields())); !res.Accepted {
		t.Fatalf("verify: %q", res.Reason)
	}

	clock.Set(a.Retention().Milliseconds())
	if removed, _ := a.SweepOnce(context.Background()); removed != 0 {
		t.Fatalf("nonce at exactly retention age must survive, removed=%d", removed)
	}
	clock.Set(a.Retention().Milliseconds() + 1)
	if removed, _ := a.SweepOnce(context.Background()); removed != 1 {
		t.Fatalf("expected nonce to be swept, removed=%d", removed)
	}
	if store.Len() != 0 || obs.swept != 1 {
		t.Fatalf("unexpected state: len=%d swept=%d", store.Len(), obs.swept)
	}
}

func TestRunSweeperStopsOnContextCancel(t *testing.T) {
	a, err := New(Config{Secret: []byte(testSecret), SweepInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunSweeper(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
