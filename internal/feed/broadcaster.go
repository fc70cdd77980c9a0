// ABOUTME: In-memory predicate-scoped pub/sub used as the live event feed
// ABOUTME: Delivers published values to every active subscription whose predicate matches

package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the channel buffer for each subscriber.
	DefaultBufferSize = 64
)

// Predicate scopes a subscription. A nil predicate matches everything.
type Predicate[T any] func(T) bool

// Option configures a Broadcaster.
type Option func(*options)

type options struct {
	bufferSize  int
	dropOnFull  bool
	logger      *slog.Logger
	componentID string
}

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithDropOnFull makes Publish skip subscribers whose buffer is full instead
// of waiting for them. Only suitable for hint-style notifications.
func WithDropOnFull() Option {
	return func(o *options) { o.dropOnFull = true }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithComponent overrides the component name attached to log lines.
func WithComponent(name string) Option {
	return func(o *options) { o.componentID = name }
}

// Subscription is a live handle on a Broadcaster. Values arrive on C until
// Cancel is called or the broadcaster is closed, after which C is closed.
type Subscription[T any] struct {
	id    string
	ch    chan T
	match Predicate[T]
	done  chan struct{}
	once  sync.Once
	b     *Broadcaster[T]
}

// ID returns the unique subscription identifier.
func (s *Subscription[T]) ID() string { return s.id }

// C returns the delivery channel.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed as soon as the subscription is cancelled.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Cancel stops delivery and closes C. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.b.unsubscribe(s)
}

// Broadcaster fans published values out to matching subscribers.
// Delivery to a subscriber preserves publish order.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription[T]
	closed      bool
	quit        chan struct{}
	quitOnce    sync.Once
	opts        options
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster[T any](opts ...Option) *Broadcaster[T] {
	o := options{
		bufferSize:  DefaultBufferSize,
		logger:      slog.Default(),
		componentID: "broadcaster",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]*Subscription[T]),
		quit:        make(chan struct{}),
		opts:        o,
		logger:      o.logger.With("component", o.componentID),
	}
}

// Subscribe registers a subscriber for values matching pred.
// The subscription is automatically cancelled when ctx is done.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, pred Predicate[T]) *Subscription[T] {
	sub := &Subscription[T]{
		id:    uuid.New().String(),
		ch:    make(chan T, b.opts.bufferSize),
		match: pred,
		done:  make(chan struct{}),
		b:     b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.once.Do(func() {
			close(sub.done)
			close(sub.ch)
		})
		return sub
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", sub.id)

	// Auto-cleanup on context cancellation
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()

	return sub
}

// Publish delivers v to every matching subscriber. Unless the broadcaster
// drops on full buffers, Publish waits for slow subscribers until they drain,
// are cancelled, or ctx is done. Returns the number of deliveries.
func (b *Broadcaster[T]) Publish(ctx context.Context, v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, sub := range b.subscribers {
		if sub.match != nil && !sub.match(v) {
			continue
		}
		select {
		case <-sub.done:
			continue
		default:
		}

		select {
		case sub.ch <- v:
			delivered++
			continue
		default:
		}

		if b.opts.dropOnFull {
			b.logger.Debug("dropped value for slow subscriber", "sub_id", id)
			continue
		}

		select {
		case sub.ch <- v:
			delivered++
		case <-sub.done:
		case <-b.quit:
			return delivered
		case <-ctx.Done():
			b.logger.Warn("publish abandoned", "sub_id", id, "error", ctx.Err())
			return delivered
		}
	}
	return delivered
}

// unsubscribe closes done first so a Publish blocked on this subscriber
// releases its read lock, then removes it and closes the channel.
func (b *Broadcaster[T]) unsubscribe(sub *Subscription[T]) {
	sub.once.Do(func() {
		close(sub.done)

		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subscribers[sub.id]; ok {
			delete(b.subscribers, sub.id)
			close(sub.ch)
			b.logger.Debug("subscriber removed", "sub_id", sub.id)
		}
	})
}

// Len returns the number of active subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close cancels every subscription. Later subscriptions are returned already closed.
func (b *Broadcaster[T]) Close() {
	// Release blocked publishers before taking the write lock.
	b.quitOnce.Do(func() { close(b.quit) })

	b.mu.Lock()
	subs := make([]*Subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}

	b.logger.Debug("broadcaster closed")
}
