package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestThrottle(cooldown time.Duration, maxRepeats int) (*Throttle, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	th := New(cooldown, maxRepeats)
	th.now = clock.now
	return th, clock
}

func TestRecordEmitsUpToMaxRepeatsThenSuppresses(t *testing.T) {
	th, clock := newTestThrottle(5*time.Second, 3)

	want := []Decision{
		{Emit: true, Count: 1},
		{Emit: true, Count: 2},
		{Emit: true, Count: 3},
		{Emit: false, Count: 4},
		{Emit: false, Count: 5},
	}
	for i, expected := range want {
		got := th.Record("conn-1", "alt_tab")
		assert.Equal(t, expected, got, "occurrence %d", i+1)
		clock.advance(200 * time.Millisecond)
	}
}

func TestRecordResetsWindowAfterCooldown(t *testing.T) {
	th, clock := newTestThrottle(5*time.Second, 3)

	for i := 0; i < 5; i++ {
		th.Record("conn-1", "alt_tab")
	}

	clock.advance(6 * time.Second)

	got := th.Record("conn-1", "alt_tab")
	assert.Equal(t, Decision{Emit: true, Count: 1}, got, "expired window starts fresh")
}

func TestRecordTracksPairsIndependently(t *testing.T) {
	th, _ := newTestThrottle(5*time.Second, 3)

	for i := 0; i < 4; i++ {
		th.Record("conn-1", "alt_tab")
	}

	assert.Equal(t, Decision{Emit: true, Count: 1}, th.Record("conn-1", "screenshot"),
		"different violation type has its own window")
	assert.Equal(t, Decision{Emit: true, Count: 1}, th.Record("conn-2", "alt_tab"),
		"different connection has its own window")
}

func TestForgetDropsConnectionState(t *testing.T) {
	th, _ := newTestThrottle(5*time.Second, 3)

	for i := 0; i < 4; i++ {
		th.Record("conn-1", "alt_tab")
	}
	th.Record("conn-2", "alt_tab")

	th.Forget("conn-1")

	assert.Equal(t, Decision{Emit: true, Count: 1}, th.Record("conn-1", "alt_tab"),
		"forgotten connection restarts at one")
	assert.Equal(t, Decision{Emit: true, Count: 2}, th.Record("conn-2", "alt_tab"),
		"other connections keep their windows")
}

func TestCleanupRemovesOnlyStaleEntries(t *testing.T) {
	th, clock := newTestThrottle(5*time.Second, 3)

	th.Record("old", "alt_tab")
	clock.advance(11 * time.Second)
	th.Record("fresh", "alt_tab")

	th.Cleanup()

	th.mu.Lock()
	_, oldKept := th.entries[key{connID: "old", vtype: "alt_tab"}]
	_, freshKept := th.entries[key{connID: "fresh", vtype: "alt_tab"}]
	th.mu.Unlock()

	assert.False(t, oldKept)
	assert.True(t, freshKept)
}
