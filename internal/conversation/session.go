// ABOUTME: Session is the sync context that owns the core components and the feed subscription
// ABOUTME: Serializes feed dispatch and user calls, and publishes state-change notifications

package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/dmsync/internal/dedupe"
	"github.com/2389/dmsync/internal/feed"
	"github.com/2389/dmsync/internal/preview"
	"github.com/2389/dmsync/internal/store"
)

// ChangeKind says which read model changed.
type ChangeKind string

const (
	ChangeConversations ChangeKind = "conversations"
	ChangeThread        ChangeKind = "thread"
)

// Change is a state-changed notification for the presentation layer. It
// carries no state; callers re-read ListConversations or Thread.
type Change struct {
	Kind   ChangeKind
	PeerID string
}

// ThreadView is what OpenConversation hands to the presentation layer.
type ThreadView struct {
	Peer  store.User
	State ThreadState
}

// Config wires a Session to its collaborators.
type Config struct {
	LocalUserID string
	Loader      store.SnapshotLoader
	Mutator     store.Mutator
	Feed        EventFeed

	// Applied is the index's dedupe window. Nil gets an unbounded-TTL default.
	Applied *dedupe.Window
	// Previews renders conversation previews. Nil gets the default renderer.
	Previews *preview.Renderer
	// ChangeBuffer sizes each Updates subscription. Zero uses the feed default.
	ChangeBuffer int
	// Now stamps outgoing messages. Nil uses time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Session is the explicit sync context for one signed-in user. Every entry
// point runs under one mutex, so feed dispatch and user calls never
// interleave. Build one with NewSession, call Start, and Close when done.
type Session struct {
	mu sync.Mutex

	localUserID string
	loader      store.SnapshotLoader
	mutator     store.Mutator
	now         func() time.Time

	index    *ConversationIndex
	thread   *ThreadStore
	receipts *ReadReceiptTracker
	router   *EventRouter
	changes  *feed.Broadcaster[Change]

	started bool
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewSession builds a session and its components without subscribing.
func NewSession(cfg Config) (*Session, error) {
	switch {
	case cfg.LocalUserID == "":
		return nil, errors.New("local user id is required")
	case cfg.Loader == nil:
		return nil, errors.New("snapshot loader is required")
	case cfg.Mutator == nil:
		return nil, errors.New("mutator is required")
	case cfg.Feed == nil:
		return nil, errors.New("event feed is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	index := NewConversationIndex(cfg.Applied, cfg.Previews, logger)
	thread := NewThreadStore(cfg.LocalUserID, logger)
	receipts := NewReadReceiptTracker(cfg.LocalUserID, cfg.Mutator, index, thread, logger)
	router := NewEventRouter(cfg.LocalUserID, cfg.Feed, index, thread, receipts, logger)

	return &Session{
		localUserID: cfg.LocalUserID,
		loader:      cfg.Loader,
		mutator:     cfg.Mutator,
		now:         now,
		index:       index,
		thread:      thread,
		receipts:    receipts,
		router:      router,
		changes: feed.NewBroadcaster[Change](
			feed.WithDropOnFull(),
			feed.WithBufferSize(cfg.ChangeBuffer),
			feed.WithLogger(logger),
			feed.WithComponent("changes"),
		),
		logger: logger.With("component", "session", "user_id", cfg.LocalUserID),
	}, nil
}

// LocalUserID returns the signed-in user.
func (s *Session) LocalUserID() string { return s.localUserID }

// Start subscribes to the feed, loads the snapshot and begins dispatching
// live events in the background. Subscribing first means events published
// while the snapshot loads are queued rather than lost; those already in the
// snapshot are absorbed as duplicates. Dispatch stops when ctx is done or the
// session is closed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return fmt.Errorf("%w: session already started", ErrSubscriptionMisuse)
	}

	if err := s.router.Start(ctx); err != nil {
		return err
	}
	if err := s.resyncLocked(ctx); err != nil {
		s.router.Stop()
		return err
	}

	s.started = true
	events := s.router.Events()
	s.wg.Go(func() { s.run(ctx, events) })

	s.logger.Info("session started", "conversations", s.index.Len())
	return nil
}

func (s *Session) run(ctx context.Context, events <-chan feed.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev feed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	d, err := s.router.Dispatch(ctx, ev)
	switch {
	case err == nil:
	case NeedsResync(err):
		s.logger.Warn("resyncing after live event", "reason", err)
		if rerr := s.resyncLocked(ctx); rerr != nil {
			s.logger.Error("resync failed", "error", rerr)
		}
		return
	default:
		s.logger.Error("dispatch failed", "seq", d.Seq, "error", err)
	}

	if d.Applied || d.MarkedRead {
		s.notify(ctx, Change{Kind: ChangeConversations, PeerID: d.PeerID})
	}
	if d.Thread == Appended {
		s.notify(ctx, Change{Kind: ChangeThread, PeerID: d.PeerID})
	}
}

// Resync reloads peers and messages and rebuilds the conversation list. The
// open thread is left as is.
func (s *Session) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.resyncLocked(ctx)
}

func (s *Session) resyncLocked(ctx context.Context) error {
	peers, err := s.loader.FetchPeers(ctx, s.localUserID)
	if err != nil {
		return transportError("fetch peers", err)
	}
	for i := range peers {
		if err := peers[i].Validate(); err != nil {
			return transportError("fetch peers", err)
		}
	}

	messages, err := s.loader.FetchMessages(ctx, s.localUserID)
	if err != nil {
		return transportError("fetch messages", err)
	}
	if err := validateMessages(messages); err != nil {
		return transportError("fetch messages", err)
	}

	s.index.Initialize(peers, messages, s.localUserID)
	s.notify(ctx, Change{Kind: ChangeConversations})
	return nil
}

// ListConversations returns the conversation list, most recent first.
func (s *Session) ListConversations() []ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.List()
}

// SearchConversations filters the conversation list by peer name or preview.
func (s *Session) SearchConversations(query string) []ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Search(query)
}

// OpenConversation closes any open thread, loads peerID's history, opens it
// and marks its unread messages read. The lock is held across the history
// fetch, so live events for the peer are dispatched only after the thread
// is open.
//
// If marking read fails the thread stays open, the view is returned with
// the messages still unread, and the error is a *TransportError.
func (s *Session) OpenConversation(ctx context.Context, peerID string) (ThreadView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ThreadView{}, ErrSessionClosed
	}

	peer, ok := s.index.Peer(peerID)
	if !ok {
		return ThreadView{}, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	history, err := s.loader.FetchHistory(ctx, s.localUserID, peerID)
	if err != nil {
		return ThreadView{}, transportError("fetch history", err)
	}
	if err := validateMessages(history); err != nil {
		return ThreadView{}, transportError("fetch history", err)
	}

	if s.thread.IsOpen() && !s.thread.IsOpenFor(peerID) {
		s.closeThreadLocked(ctx)
	}

	state, err := s.thread.Open(peerID, history)
	if err != nil {
		return ThreadView{}, err
	}
	if err := s.router.AttachThread(peerID); err != nil {
		s.thread.Close()
		return ThreadView{}, err
	}
	s.logger.Info("conversation opened", "peer_id", peerID, "messages", s.thread.Len())

	markErr := s.receipts.OnThreadOpened(ctx, peerID, UnreadIncomingIDs(state, s.localUserID))

	s.notify(ctx, Change{Kind: ChangeThread, PeerID: peerID})
	s.notify(ctx, Change{Kind: ChangeConversations, PeerID: peerID})

	return ThreadView{Peer: peer, State: s.thread.State()}, markErr
}

// CloseConversation closes the open thread, if any.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeThreadLocked(context.Background())
}

func (s *Session) closeThreadLocked(ctx context.Context) {
	peerID := s.thread.PeerID()
	if !s.thread.IsOpen() {
		return
	}
	s.router.DetachThread()
	s.thread.Close()
	s.notify(ctx, Change{Kind: ChangeThread, PeerID: peerID})
}

// Thread returns the open thread and whether one is open.
func (s *Session) Thread() (ThreadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread.State(), s.thread.IsOpen()
}

// SearchThread returns a lazy, filtered view of the open thread.
func (s *Session) SearchThread(query string) (iter.Seq[MessageCluster], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.thread.IsOpen() {
		return nil, ErrNoThreadOpen
	}
	return s.thread.SearchFilter(query), nil
}

// SendMessage writes a message from the local user to peerID. Blank content
// is rejected before the Mutator is called. The conversation list and thread
// update when the created message comes back through the feed.
func (s *Session) SendMessage(ctx context.Context, peerID, content string) (*store.Message, error) {
	if err := store.CheckContent(content); err != nil {
		return nil, err
	}

	s.mu.Lock()
	closed := s.closed
	_, known := s.index.Peer(peerID)
	s.mu.Unlock()

	if closed {
		return nil, ErrSessionClosed
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	// Not under the lock: the Mutator's change notification may need the
	// dispatch loop to drain.
	msg, err := s.mutator.Send(ctx, s.localUserID, peerID, content, s.now())
	if err != nil {
		s.logger.Error("send failed", "peer_id", peerID, "error", err)
		return nil, transportError("send", err)
	}
	return msg, nil
}

// Updates subscribes to state-changed notifications. Notifications are
// hints and are dropped for subscribers that fall behind.
func (s *Session) Updates(ctx context.Context) *feed.Subscription[Change] {
	return s.changes.Subscribe(ctx, nil)
}

// SubscriptionState reports whether the feed subscription is live.
func (s *Session) SubscriptionState() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router.State()
}

// Close tears down the thread scope and the feed subscription, waits for
// the dispatch loop to exit and closes Updates subscriptions. Safe to call
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeThreadLocked(context.Background())
	s.router.Stop()
	s.mu.Unlock()

	s.wg.Wait()
	s.changes.Close()
	s.logger.Info("session closed")
}

func (s *Session) notify(ctx context.Context, c Change) {
	s.changes.Publish(ctx, c)
}

func validateMessages(msgs []store.Message) error {
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
