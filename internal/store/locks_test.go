package store

import (
	"testing"
	"time"

	"github.com/fentz26/crewd/internal/models"
)

func testLock(resourceKey, agentID string) *models.FileLock {
	return &models.FileLock{
		ResourceKey:    resourceKey,
		OwnerAgentID:   agentID,
		OwnerAgentType: "claude",
	}
}

func TestAcquireAndReleaseLock(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	acq, err := s.AcquireLock(testLock("src/main.go", "agent-1"), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if acq.Lock == nil {
		t.Fatal("Expected acquired lock")
	}
	if acq.Refreshed {
		t.Error("Fresh acquire should not report refreshed")
	}
	if acq.Conflict != nil {
		t.Error("Fresh acquire should not conflict")
	}
	if !acq.Lock.ExpiresAt.After(acq.Lock.AcquiredAt) {
		t.Error("Expected expires_at after acquired_at")
	}

	outcome, err := s.ReleaseLock("src/main.go", "agent-1")
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if outcome != ReleaseDone {
		t.Errorf("Expected ReleaseDone, got %v", outcome)
	}

	locks, err := s.ListLocks(nil)
	if err != nil {
		t.Fatalf("ListLocks failed: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("Expected no locks after release, got %d", len(locks))
	}
}

func TestAcquireRefreshesForSameOwner(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	first, err := s.AcquireLock(testLock("src/main.go", "agent-1"), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	second, err := s.AcquireLock(testLock("src/main.go", "agent-1"), time.Hour)
	if err != nil {
		t.Fatalf("Second AcquireLock failed: %v", err)
	}
	if !second.Refreshed {
		t.Error("Re-acquire by the owner should refresh")
	}
	if !second.Lock.ExpiresAt.After(first.Lock.ExpiresAt) {
		t.Error("Refresh should extend the expiry")
	}

	// Still exactly one lock row
	locks, _ := s.ListLocks(nil)
	if len(locks) != 1 {
		t.Errorf("Expected 1 lock, got %d", len(locks))
	}
}

func TestAcquireConflictLeavesHolderUntouched(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if _, err := s.AcquireLock(testLock("src/main.go", "agent-1"), time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	acq, err := s.AcquireLock(testLock("src/main.go", "agent-2"), time.Minute)
	if err != nil {
		t.Fatalf("Conflicting AcquireLock failed: %v", err)
	}
	if acq.Conflict == nil {
		t.Fatal("Expected a conflict for a held resource")
	}
	if acq.Conflict.OwnerAgentID != "agent-1" {
		t.Errorf("Conflict should name the holder, got %s", acq.Conflict.OwnerAgentID)
	}

	locks, _ := s.ListLocks([]string{"src/main.go"})
	if len(locks) != 1 || locks[0].OwnerAgentID != "agent-1" {
		t.Error("Holder's lock should be unchanged after a conflict")
	}
}

func TestExpiredLockIsReclaimable(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	// Acquire with an already-past expiry
	if _, err := s.AcquireLock(testLock("src/main.go", "agent-1"), -time.Second); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	acq, err := s.AcquireLock(testLock("src/main.go", "agent-2"), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock over expired lock failed: %v", err)
	}
	if acq.Lock == nil || acq.Conflict != nil {
		t.Fatal("Expired lock should be reclaimable by another agent")
	}
	if acq.Lock.OwnerAgentID != "agent-2" {
		t.Errorf("Expected agent-2 as new owner, got %s", acq.Lock.OwnerAgentID)
	}
}

func TestReleaseOwnershipCheck(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if _, err := s.AcquireLock(testLock("src/main.go", "agent-1"), time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	outcome, err := s.ReleaseLock("src/main.go", "agent-2")
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if outcome != ReleaseNotOwner {
		t.Errorf("Expected ReleaseNotOwner, got %v", outcome)
	}

	// The lock is still held by the owner
	locks, _ := s.ListLocks([]string{"src/main.go"})
	if len(locks) != 1 || locks[0].OwnerAgentID != "agent-1" {
		t.Error("Non-owner release must not remove the lock")
	}

	outcome, err = s.ReleaseLock("docs/missing.md", "agent-1")
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if outcome != ReleaseNotFound {
		t.Errorf("Expected ReleaseNotFound, got %v", outcome)
	}
}

func TestReleaseExpiredLockReportsNotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if _, err := s.AcquireLock(testLock("src/main.go", "agent-1"), -time.Second); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	outcome, err := s.ReleaseLock("src/main.go", "agent-1")
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if outcome != ReleaseNotFound {
		t.Errorf("Expected ReleaseNotFound for expired lock, got %v", outcome)
	}
}

func TestForceReleaseLocksForAgent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	s.AcquireLock(testLock("a.go", "agent-1"), time.Minute)
	s.AcquireLock(testLock("b.go", "agent-1"), time.Minute)
	s.AcquireLock(testLock("c.go", "agent-2"), time.Minute)

	n, err := s.ForceReleaseLocksForAgent("agent-1")
	if err != nil {
		t.Fatalf("ForceReleaseLocksForAgent failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 locks released, got %d", n)
	}

	// Idempotent: nothing left to release
	n, err = s.ForceReleaseLocksForAgent("agent-1")
	if err != nil {
		t.Fatalf("Second ForceReleaseLocksForAgent failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 on repeat, got %d", n)
	}

	// agent-2's lock survives
	locks, _ := s.ListLocks(nil)
	if len(locks) != 1 || locks[0].OwnerAgentID != "agent-2" {
		t.Error("Other agents' locks must survive a force release")
	}
}

func TestPurgeExpiredLocks(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	s.AcquireLock(testLock("a.go", "agent-1"), -time.Second)
	s.AcquireLock(testLock("b.go", "agent-1"), time.Minute)

	n, err := s.PurgeExpiredLocks()
	if err != nil {
		t.Fatalf("PurgeExpiredLocks failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 purged lock, got %d", n)
	}

	locks, _ := s.ListLocks(nil)
	if len(locks) != 1 || locks[0].ResourceKey != "b.go" {
		t.Error("Live lock should survive the purge")
	}
}
