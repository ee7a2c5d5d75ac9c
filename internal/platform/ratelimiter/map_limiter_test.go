package ratelimiter

import (
	"fmt"
	"testing"
	"time"
)

func TestNewRejectsInvalidArgs(t *testing.T) {
	if New(0, 1, 0) != nil || New(1, 0, 0) != nil {
		t.Fatal("expected nil limiter for invalid args")
	}
	var l *MapLimiter
	if l.Throttled("1.2.3.4", time.Now()) || !l.Penalize("1.2.3.4", time.Now()) || l.Len() != 0 {
		t.Fatal("nil limiter must never throttle")
	}
}

func TestPenaltiesThrottleUntilRefill(t *testing.T) {
	l := New(1, 3, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if l.Throttled("10.0.0.1", now) {
		t.Fatal("unknown client must not be throttled")
	}
	for i := 0; i < 3; i++ {
		if !l.Penalize("10.0.0.1", now) {
			t.Fatalf("penalty %d must fit in the burst", i)
		}
	}
	if !l.Throttled("10.0.0.1", now) {
		t.Fatal("client must be throttled after exhausting its burst")
	}
	if l.Throttled("10.0.0.2", now) {
		t.Fatal("other clients must not be affected")
	}
	if l.Throttled("10.0.0.1", now.Add(1100*time.Millisecond)) {
		t.Fatal("client must recover once a token refills")
	}
}

func TestThrottledDoesNotSpendTokens(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.Penalize("k", now.Add(-time.Hour))
	for i := 0; i < 10; i++ {
		if l.Throttled("k", now) {
			t.Fatal("read-only check must not drain the bucket")
		}
	}
}

func TestIdleEntriesAreEvicted(t *testing.T) {
	l := New(100, 100, time.Minute)
	start := time.Unix(1_700_000_000, 0)
	l.Penalize("stale", start)
	later := start.Add(2 * time.Minute)
	for i := 0; i < 511; i++ {
		l.Penalize(fmt.Sprintf("client-%d", i%10), later)
	}
	if l.Len() != 10 {
		t.Fatalf("expected stale entry evicted, have %d keys", l.Len())
	}
}
