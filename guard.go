package main

import (
	"sync"
	"time"
)

const (
	maxFails     = 5
	lockDuration = 60 * time.Second
)

const (
	attemptKindGM     = "gm"
	attemptKindPlayer = "player"
)

// attemptKey identifies one credential-guessing surface. GM attempts all
// share the fixed identity "gm"; player attempts use the client's
// self-reported identity.
type attemptKey struct {
	kind string
	code string
	id   string
}

func gmAttemptKey(code string) attemptKey {
	return attemptKey{kind: attemptKindGM, code: code, id: "gm"}
}

func playerAttemptKey(code, clientID string) attemptKey {
	return attemptKey{kind: attemptKindPlayer, code: code, id: clientID}
}

type attemptRecord struct {
	fails       int
	lockedUntil time.Time
}

func (r attemptRecord) locked(now time.Time) bool {
	return !r.lockedUntil.IsZero() && r.lockedUntil.After(now)
}

// attemptTracker counts failed credential attempts per key and enforces a
// fixed 60-second lockout after the fifth cumulative failure. Expired locks
// are dropped lazily on the next check; keys are bounded by failed-attempt
// traffic, so there is no background eviction.
type attemptTracker struct {
	mu      sync.Mutex
	entries map[attemptKey]*attemptRecord
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{
		entries: make(map[attemptKey]*attemptRecord),
	}
}

func (t *attemptTracker) isLocked(key attemptKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	if entry.lockedUntil.IsZero() {
		return false
	}
	if entry.lockedUntil.After(time.Now()) {
		return true
	}

	delete(t.entries, key)

	return false
}

// registerFailure increments the key's counter, arming the lock when the
// threshold is crossed. Failures while already locked do not extend the lock.
func (t *attemptTracker) registerFailure(key attemptKey) attemptRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		entry = &attemptRecord{}
		t.entries[key] = entry
	}

	entry.fails++
	if entry.fails >= maxFails && entry.lockedUntil.IsZero() {
		entry.lockedUntil = time.Now().Add(lockDuration)
	}

	return *entry
}

func (t *attemptTracker) clear(key attemptKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
}
