// Package session tracks per-identifier conversational activity so the
// agent knows whether to greet a sender as a new session. State lives
// only in process memory: a restart means every sender looks new, which
// is the safe default.
package session

import (
	"sync"
	"time"
)

// sweepInterval bounds how often stale entries are evicted. The sweep
// runs opportunistically during Touch, never on the IsNew read path.
const sweepInterval = 10 * time.Minute

// Tracker records the last activity time per identifier. Safe for
// concurrent use; concurrent touches on the same identifier resolve
// last-write-wins, which is fine because session state is advisory.
type Tracker struct {
	mu      sync.RWMutex
	last    map[string]time.Time
	timeout func() time.Duration
	nowFunc func() time.Time

	lastSweep time.Time
}

// NewTracker creates a session tracker. timeout is consulted fresh on
// every check so configuration changes apply without a restart.
func NewTracker(timeout func() time.Duration) *Tracker {
	return &Tracker{
		last:    make(map[string]time.Time),
		timeout: timeout,
		nowFunc: time.Now,
	}
}

// IsNew reports whether the identifier should be treated as starting a
// new session: never touched, or idle longer than the configured
// timeout.
func (t *Tracker) IsNew(id string) bool {
	t.mu.RLock()
	last, ok := t.last[id]
	t.mu.RUnlock()

	if !ok {
		return true
	}
	return t.nowFunc().Sub(last) > t.timeout()
}

// Touch marks the identifier active now, regardless of prior state.
func (t *Tracker) Touch(id string) {
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[id] = now
	t.maybeSweepLocked(now)
}

// Len returns the number of tracked identifiers.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.last)
}

// maybeSweepLocked evicts entries idle for more than twice the current
// timeout. Must be called with t.mu held. Eviction only affects memory
// use: an evicted identifier reads as a new session, the same answer an
// expired entry would give.
func (t *Tracker) maybeSweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < sweepInterval {
		return
	}
	t.lastSweep = now

	cutoff := now.Add(-2 * t.timeout())
	for id, last := range t.last {
		if last.Before(cutoff) {
			delete(t.last, id)
		}
	}
}
