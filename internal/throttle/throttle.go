// Package throttle rate-limits repeated identical violation reports so one
// noisy student cannot drown out the rest of the class.
package throttle

import (
	"sync"
	"time"
)

// Decision is the outcome of recording one violation occurrence.
type Decision struct {
	// Emit reports whether the occurrence should be surfaced.
	Emit bool
	// Count is the occurrence number inside the current window. Surfaceable
	// repeats carry it as an "xN" annotation; suppressed occurrences still
	// advance it.
	Count int
}

type entry struct {
	windowStart time.Time
	count       int
}

type key struct {
	connID string
	vtype  string
}

// Throttle tracks occurrence windows per (connection, violation type) pair.
// Within a cooldown window the first maxRepeats occurrences are emitted with
// a running count; the rest are counted silently. A window older than the
// cooldown is reset on the next occurrence, never accumulated.
type Throttle struct {
	cooldown   time.Duration
	maxRepeats int
	now        func() time.Time

	mu      sync.Mutex
	entries map[key]*entry
}

func New(cooldown time.Duration, maxRepeats int) *Throttle {
	return &Throttle{
		cooldown:   cooldown,
		maxRepeats: maxRepeats,
		now:        time.Now,
		entries:    make(map[key]*entry),
	}
}

// Record registers one occurrence and decides whether to surface it. Pure
// in-memory work, safe on the dispatch hot path.
func (t *Throttle) Record(connID, violationType string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := key{connID: connID, vtype: violationType}

	e, ok := t.entries[k]
	if !ok || now.Sub(e.windowStart) >= t.cooldown {
		t.entries[k] = &entry{windowStart: now, count: 1}
		return Decision{Emit: true, Count: 1}
	}

	e.count++
	if e.count > t.maxRepeats {
		return Decision{Emit: false, Count: e.count}
	}
	return Decision{Emit: true, Count: e.count}
}

// Forget drops all state for a connection, called when it disconnects.
func (t *Throttle) Forget(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.entries {
		if k.connID == connID {
			delete(t.entries, k)
		}
	}
}

// Cleanup removes entries whose window expired more than the cooldown ago.
// Called periodically so long sessions do not accumulate stale keys.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-2 * t.cooldown)
	for k, e := range t.entries {
		if e.windowStart.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}
