// ABOUTME: Thread-safe window of recently applied message ids
// ABOUTME: Used by the conversation index to drop redelivered live events

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultMaxSize bounds a window created with a non-positive size.
	DefaultMaxSize = 50_000

	cleanupInterval = time.Minute
)

type windowEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Window is a TTL-bounded, size-limited set of ids. The linked list keeps
// ids in observation order so eviction is O(1).
type Window struct {
	mu      sync.RWMutex
	seen    map[string]*windowEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a window. A ttl of zero or less never expires ids; they leave
// only through eviction or Reset. A background sweep runs only when ttl > 0.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	w := &Window{
		seen:    make(map[string]*windowEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go w.sweep()
	}
	return w
}

func (w *Window) live(e *windowEntry) bool {
	return w.ttl <= 0 || w.now().Sub(e.seenAt) < w.ttl
}

// Seen reports whether id is in the window.
func (w *Window) Seen(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, ok := w.seen[id]
	return ok && w.live(e)
}

// Observe atomically checks and records id. It returns true when id was
// already in the window (a duplicate) and false when it was newly recorded.
func (w *Window) Observe(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.seen[id]; ok && w.live(e) {
		return true
	}
	w.markLocked(id)
	return false
}

// Mark records ids without reporting duplicates.
func (w *Window) Mark(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.markLocked(id)
	}
}

func (w *Window) markLocked(id string) {
	now := w.now()

	if e, ok := w.seen[id]; ok {
		e.seenAt = now
		w.order.MoveToBack(e.element)
		return
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldest()
	}

	w.seen[id] = &windowEntry{
		seenAt:  now,
		element: w.order.PushBack(id),
	}
}

func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, id)
}

// Reset forgets every id.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]*windowEntry)
	w.order.Init()
}

// Len returns the number of ids currently held, expired or not.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.seen)
}

func (w *Window) sweep() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.expire()
		case <-w.done:
			return
		}
	}
}

// expire drops ids older than the TTL.
func (w *Window) expire() {
	if w.ttl <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for id, e := range w.seen {
		if now.Sub(e.seenAt) >= w.ttl {
			w.order.Remove(e.element)
			delete(w.seen, id)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
