package coordination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func ttlOf(d time.Duration) *time.Duration {
	return &d
}

func TestAcquireValidation(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	_, err := svc.locks.Acquire(ctx, Caller{}, "src/main.go", AcquireRequest{})
	if !errors.Is(err, ErrMissingAgentID) {
		t.Errorf("Expected ErrMissingAgentID, got %v", err)
	}

	_, err = svc.locks.Acquire(ctx, caller("agent-1"), "", AcquireRequest{})
	if !errors.Is(err, ErrMissingResource) {
		t.Errorf("Expected ErrMissingResource, got %v", err)
	}
}

func TestAcquireAppliesDefaultTTL(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	result, err := svc.locks.Acquire(ctx, caller("agent-1"), "src/main.go", AcquireRequest{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if result.Status != AcquireAcquired {
		t.Fatalf("Expected acquired, got %s", result.Status)
	}

	ttl := result.Lock.ExpiresAt.Sub(result.Lock.AcquiredAt)
	if ttl != DefaultLockTTL {
		t.Errorf("Expected default TTL %v, got %v", DefaultLockTTL, ttl)
	}
}

func TestExplicitZeroTTLIsImmediatelyReclaimable(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	result, err := svc.locks.Acquire(ctx, caller("agent-1"), "src/main.go", AcquireRequest{TTL: ttlOf(0)})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if result.Status != AcquireAcquired {
		t.Fatalf("Expected acquired, got %s", result.Status)
	}
	if !result.Lock.ExpiresAt.Equal(result.Lock.AcquiredAt) {
		t.Errorf("Zero TTL should expire at acquisition time, got %v after %v",
			result.Lock.ExpiresAt, result.Lock.AcquiredAt)
	}

	// The already-expired lock must not block the next caller.
	result, err = svc.locks.Acquire(ctx, caller("agent-2"), "src/main.go", AcquireRequest{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if result.Status != AcquireAcquired {
		t.Errorf("Expected acquired over an expired lock, got %s (owner %s)", result.Status, result.Owner)
	}
}

func TestSetDefaultTTL(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	svc.locks.SetDefaultTTL(2 * time.Minute)
	result, err := svc.locks.Acquire(ctx, caller("agent-1"), "src/main.go", AcquireRequest{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ttl := result.Lock.ExpiresAt.Sub(result.Lock.AcquiredAt)
	if ttl != 2*time.Minute {
		t.Errorf("Expected configured TTL 2m, got %v", ttl)
	}
}

func TestAcquireConflictReportsHolder(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	if _, err := svc.locks.Acquire(ctx, caller("agent-1"), "src/main.go", AcquireRequest{}); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	result, err := svc.locks.Acquire(ctx, caller("agent-2"), "src/main.go", AcquireRequest{})
	if err != nil {
		t.Fatalf("Conflicting acquire must not error: %v", err)
	}
	if result.Status != AcquireConflict {
		t.Fatalf("Expected conflict, got %s", result.Status)
	}
	if result.Owner != "agent-1" {
		t.Errorf("Conflict should name the holder, got %s", result.Owner)
	}
	if result.ExpiresAt.IsZero() {
		t.Error("Conflict should carry the holder's expiry")
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	const agents = 8
	var wg sync.WaitGroup
	results := make([]*AcquireResult, agents)
	errs := make([]error, agents)

	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			results[i], errs[i] = svc.locks.Acquire(ctx, caller("agent-"+id), "src/main.go", AcquireRequest{})
		}(i)
	}
	wg.Wait()

	acquired := 0
	conflicts := 0
	for i := 0; i < agents; i++ {
		if errs[i] != nil {
			t.Fatalf("Acquire %d failed: %v", i, errs[i])
		}
		switch results[i].Status {
		case AcquireAcquired:
			acquired++
		case AcquireConflict:
			conflicts++
		}
	}
	if acquired != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", acquired)
	}
	if conflicts != agents-1 {
		t.Errorf("Expected %d conflicts, got %d", agents-1, conflicts)
	}
}

func TestReleaseStatusMapping(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	svc.locks.Acquire(ctx, caller("agent-1"), "src/main.go", AcquireRequest{})

	status, err := svc.locks.Release(ctx, caller("agent-2"), "src/main.go")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if status != ReleaseNotOwner {
		t.Errorf("Expected not_owner, got %s", status)
	}

	status, _ = svc.locks.Release(ctx, caller("agent-1"), "src/main.go")
	if status != ReleaseReleased {
		t.Errorf("Expected released, got %s", status)
	}

	status, _ = svc.locks.Release(ctx, caller("agent-1"), "src/main.go")
	if status != ReleaseNotFound {
		t.Errorf("Expected not_found, got %s", status)
	}
}

func TestCheckFiltersExpired(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	svc.locks.Acquire(ctx, caller("agent-1"), "live.go", AcquireRequest{TTL: ttlOf(time.Minute)})
	svc.locks.Acquire(ctx, caller("agent-1"), "stale.go", AcquireRequest{TTL: ttlOf(time.Millisecond)})
	time.Sleep(10 * time.Millisecond)

	locks, err := svc.locks.Check(ctx, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(locks) != 1 || locks[0].ResourceKey != "live.go" {
		t.Errorf("Expected only the live lock, got %+v", locks)
	}
}
