// ABOUTME: Tests for the applied-id dedupe window
// ABOUTME: Covers expiry, the no-expiry mode, eviction order, reset and concurrent observe

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(t *testing.T, ttl time.Duration, size int) (*Window, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := New(ttl, size)
	w.now = clock.Now
	t.Cleanup(w.Close)
	return w, clock
}

func TestWindow_ObserveReportsDuplicates(t *testing.T) {
	w, _ := newTestWindow(t, 0, 10)

	assert.False(t, w.Observe("m1"), "first observation is new")
	assert.True(t, w.Observe("m1"), "second observation is a duplicate")
	assert.True(t, w.Seen("m1"))
	assert.False(t, w.Seen("m2"))
}

func TestWindow_ZeroTTLNeverExpires(t *testing.T) {
	w, clock := newTestWindow(t, 0, 10)

	w.Mark("m1")
	clock.Advance(365 * 24 * time.Hour)
	w.expire()

	assert.True(t, w.Seen("m1"))
	assert.Equal(t, 1, w.Len())
}

func TestWindow_ExpiresAfterTTL(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 10)

	w.Mark("m1")
	clock.Advance(30 * time.Second)
	assert.True(t, w.Seen("m1"))

	clock.Advance(31 * time.Second)
	assert.False(t, w.Seen("m1"))
	assert.False(t, w.Observe("m1"), "expired id is recorded afresh")
}

func TestWindow_RemarkRefreshes(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 10)

	w.Mark("m1")
	clock.Advance(45 * time.Second)
	w.Mark("m1")
	clock.Advance(45 * time.Second)

	assert.True(t, w.Seen("m1"))
}

func TestWindow_ExpireRemovesStaleEntries(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 10)

	w.Mark("old-1", "old-2")
	clock.Advance(2 * time.Minute)
	w.Mark("fresh")

	w.expire()

	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Seen("fresh"))
}

func TestWindow_EvictsLeastRecentlyObserved(t *testing.T) {
	w, _ := newTestWindow(t, 0, 3)

	w.Mark("first", "second", "third")
	w.Mark("first") // refresh moves it to the back

	w.Mark("fourth")
	assert.False(t, w.Seen("second"), "second is now the oldest")
	assert.True(t, w.Seen("first"))
	assert.True(t, w.Seen("third"))
	assert.True(t, w.Seen("fourth"))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_NonPositiveSizeUsesDefault(t *testing.T) {
	w, _ := newTestWindow(t, 0, 0)
	assert.Equal(t, DefaultMaxSize, w.maxSize)
}

func TestWindow_Reset(t *testing.T) {
	w, _ := newTestWindow(t, 0, 10)

	w.Mark("m1", "m2")
	w.Reset()

	assert.Equal(t, 0, w.Len())
	assert.False(t, w.Observe("m1"))
	assert.Equal(t, 1, w.Len())
}

func TestWindow_ConcurrentObserveHasOneWinner(t *testing.T) {
	w, _ := newTestWindow(t, 0, 100)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			if !w.Observe("contested") {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestWindow_ConcurrentMarkAndSeen(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 1000)

	var wg sync.WaitGroup
	for g := range 50 {
		wg.Go(func() {
			for i := range 50 {
				id := fmt.Sprintf("m-%d-%d", g, i%10)
				w.Mark(id)
				w.Seen(id)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 500, w.Len())
}

func TestWindow_CloseIsIdempotent(t *testing.T) {
	w := New(time.Minute, 10)
	w.Close()
	w.Close()
}
