package main

import (
	"testing"
	"time"
)

func TestIsLockedUnknownKey(t *testing.T) {
	tracker := newAttemptTracker()

	if tracker.isLocked(gmAttemptKey("ABCD")) {
		t.Error("unknown key should not be locked")
	}
}

func TestLocksAtFifthFailure(t *testing.T) {
	tracker := newAttemptTracker()
	key := playerAttemptKey("ABCD", "client-1")

	for i := 1; i <= 4; i++ {
		rec := tracker.registerFailure(key)
		if rec.fails != i {
			t.Errorf("fails = %d, want %d", rec.fails, i)
		}
		if tracker.isLocked(key) {
			t.Fatalf("locked after %d failures, want lock only at %d", i, maxFails)
		}
	}

	rec := tracker.registerFailure(key)
	if rec.fails != 5 {
		t.Errorf("fails = %d, want 5", rec.fails)
	}
	if !tracker.isLocked(key) {
		t.Error("key should be locked after the fifth failure")
	}
	if !rec.locked(time.Now()) {
		t.Error("returned record should report locked")
	}
}

func TestFailuresWhileLockedDoNotExtend(t *testing.T) {
	tracker := newAttemptTracker()
	key := playerAttemptKey("ABCD", "client-1")

	var lockedUntil time.Time
	for i := 0; i < maxFails; i++ {
		rec := tracker.registerFailure(key)
		lockedUntil = rec.lockedUntil
	}
	if lockedUntil.IsZero() {
		t.Fatal("lock was never armed")
	}

	rec := tracker.registerFailure(key)
	if rec.fails != maxFails+1 {
		t.Errorf("fails = %d, want %d", rec.fails, maxFails+1)
	}
	if !rec.lockedUntil.Equal(lockedUntil) {
		t.Errorf("lockedUntil moved from %v to %v", lockedUntil, rec.lockedUntil)
	}
}

func TestExpiredLockDropsRecord(t *testing.T) {
	tracker := newAttemptTracker()
	key := gmAttemptKey("ABCD")

	for i := 0; i < maxFails; i++ {
		tracker.registerFailure(key)
	}

	tracker.mu.Lock()
	tracker.entries[key].lockedUntil = time.Now().Add(-time.Second)
	tracker.mu.Unlock()

	if tracker.isLocked(key) {
		t.Error("expired lock should read as unlocked")
	}

	// The stale record is gone, so the failure count starts over.
	rec := tracker.registerFailure(key)
	if rec.fails != 1 {
		t.Errorf("fails = %d, want 1 after lazy eviction", rec.fails)
	}
}

func TestClearResetsKey(t *testing.T) {
	tracker := newAttemptTracker()
	key := playerAttemptKey("ABCD", "client-1")

	for i := 0; i < maxFails; i++ {
		tracker.registerFailure(key)
	}
	if !tracker.isLocked(key) {
		t.Fatal("key should be locked")
	}

	tracker.clear(key)

	if tracker.isLocked(key) {
		t.Error("cleared key should not be locked")
	}
	if rec := tracker.registerFailure(key); rec.fails != 1 {
		t.Errorf("fails = %d, want 1 after clear", rec.fails)
	}
}

func TestKeysAreScopedPerKindRoomAndIdentity(t *testing.T) {
	tracker := newAttemptTracker()

	for i := 0; i < maxFails; i++ {
		tracker.registerFailure(playerAttemptKey("ABCD", "client-1"))
	}

	if tracker.isLocked(playerAttemptKey("ABCD", "client-2")) {
		t.Error("another identity in the same room should be unaffected")
	}
	if tracker.isLocked(playerAttemptKey("WXYZ", "client-1")) {
		t.Error("the same identity in another room should be unaffected")
	}
	if tracker.isLocked(gmAttemptKey("ABCD")) {
		t.Error("gm attempts should be tracked separately from player attempts")
	}
}
