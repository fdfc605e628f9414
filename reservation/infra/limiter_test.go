package infra

import (
	"testing"
	"time"
)

func TestAttemptLimiter_SameKeyReturnsSameLimiter(t *testing.T) {
	l := NewAttemptLimiter(10, 1)

	if l.get("user:alice") != l.get("user:alice") {
		t.Fatalf("expected same limiter pointer for same key")
	}
}

func TestAttemptLimiter_LowBurstRejectsSecondImmediateAllow(t *testing.T) {
	l := NewAttemptLimiter(0.02, 1)

	if !l.Allow("user:alice") {
		t.Fatalf("expected first Allow to be true")
	}
	if l.Allow("user:alice") {
		t.Fatalf("expected second immediate Allow to be false (burst=1)")
	}
	if !l.Allow("user:bob") {
		t.Fatalf("expected other keys to keep their own bucket")
	}
}

func TestAttemptLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	l := NewAttemptLimiter(10, 1, WithIdleTTL(2*time.Millisecond), WithCleanupEvery(0))

	before := l.get("user:alice")
	time.Sleep(4 * time.Millisecond)

	l.Cleanup()

	after := l.get("user:alice")
	if before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}
