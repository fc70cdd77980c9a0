// ABOUTME: EventRouter owns the single live feed subscription and fans events out
// ABOUTME: Assigns dispatch sequence numbers and tracks the nested per-thread scope

package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/dmsync/internal/feed"
	"github.com/2389/dmsync/internal/store"
)

// EventFeed is the subscribable stream of live events.
type EventFeed interface {
	Subscribe(ctx context.Context, pred feed.Predicate[feed.Event]) *feed.Subscription[feed.Event]
}

// SubscriptionState is the lifecycle of the router's feed subscription.
type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribed
)

func (s SubscriptionState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Delivery describes what one dispatched event did.
type Delivery struct {
	Seq     uint64
	PeerID  string
	Applied bool
	Thread  AppendResult
	// MarkedRead is true when the message was marked read on arrival.
	MarkedRead bool
}

// EventRouter receives feed events and applies them to the index and, for
// the open conversation, to the thread and read receipts. It is not safe for
// concurrent use; Session serializes access.
type EventRouter struct {
	localUserID string
	feed        EventFeed
	index       *ConversationIndex
	thread      *ThreadStore
	receipts    *ReadReceiptTracker

	sub        *feed.Subscription[feed.Event]
	seq        uint64
	threadPeer string
	logger     *slog.Logger
}

// NewEventRouter creates an unsubscribed router.
func NewEventRouter(localUserID string, f EventFeed, index *ConversationIndex, thread *ThreadStore, receipts *ReadReceiptTracker, logger *slog.Logger) *EventRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRouter{
		localUserID: localUserID,
		feed:        f,
		index:       index,
		thread:      thread,
		receipts:    receipts,
		logger:      logger.With("component", "router"),
	}
}

// Start subscribes to every event involving the local user. Starting twice
// returns ErrSubscriptionMisuse.
func (r *EventRouter) Start(ctx context.Context) error {
	if r.sub != nil {
		return fmt.Errorf("%w: router already subscribed", ErrSubscriptionMisuse)
	}
	r.sub = r.feed.Subscribe(ctx, feed.InvolvingUser(r.localUserID))
	r.logger.Info("subscribed to feed", "user_id", r.localUserID, "sub_id", r.sub.ID())
	return nil
}

// Stop cancels the subscription and leaves any thread scope. Safe to call
// when not subscribed.
func (r *EventRouter) Stop() {
	r.threadPeer = ""
	if r.sub == nil {
		return
	}
	r.sub.Cancel()
	r.logger.Info("unsubscribed from feed", "sub_id", r.sub.ID())
	r.sub = nil
}

// State returns the subscription lifecycle state.
func (r *EventRouter) State() SubscriptionState {
	if r.sub == nil {
		return Unsubscribed
	}
	return Subscribed
}

// Events returns the subscription channel, or nil when unsubscribed.
func (r *EventRouter) Events() <-chan feed.Event {
	if r.sub == nil {
		return nil
	}
	return r.sub.C()
}

// AttachThread enters the thread scope for peerID. Entering a different
// peer's scope without DetachThread first returns ErrSubscriptionMisuse.
func (r *EventRouter) AttachThread(peerID string) error {
	if r.threadPeer != "" && r.threadPeer != peerID {
		return fmt.Errorf("%w: thread scope for %s still active", ErrSubscriptionMisuse, r.threadPeer)
	}
	r.threadPeer = peerID
	return nil
}

// DetachThread leaves the thread scope. Later events are not applied to any thread.
func (r *EventRouter) DetachThread() {
	r.threadPeer = ""
}

// ThreadScope returns the peer whose thread receives live events.
func (r *EventRouter) ThreadScope() (string, bool) {
	return r.threadPeer, r.threadPeer != ""
}

// Dispatch applies one event. Message events get the next sequence number,
// go to the index, then to the open thread when they belong to it. User
// changes return ErrPeersChanged and unknown peers ErrUnknownPeer; both ask
// the caller to resync. Read-marking failures come back as *TransportError
// after the index and thread have been updated.
func (r *EventRouter) Dispatch(ctx context.Context, ev feed.Event) (Delivery, error) {
	switch ev.Type {
	case feed.EventUserChanged:
		if ev.User == nil {
			return Delivery{}, nil
		}
		r.logger.Debug("user changed", "user_id", ev.User.ID)
		return Delivery{PeerID: ev.User.ID}, fmt.Errorf("%w: %s", ErrPeersChanged, ev.User.ID)
	case feed.EventMessageCreated:
		if ev.Message == nil {
			return Delivery{}, nil
		}
		return r.dispatchMessage(ctx, *ev.Message)
	default:
		r.logger.Debug("ignoring event", "type", ev.Type)
		return Delivery{}, nil
	}
}

func (r *EventRouter) dispatchMessage(ctx context.Context, msg store.Message) (Delivery, error) {
	r.seq++
	d := Delivery{
		Seq:    r.seq,
		PeerID: msg.Counterpart(r.localUserID),
		Thread: IgnoredNotOpen,
	}

	if err := msg.Validate(); err != nil {
		return d, transportError("live message", err)
	}

	_, applied, err := r.index.ApplyIncomingMessage(msg, r.localUserID, d.Seq)
	if err != nil {
		r.logger.Warn("live message needs resync", "message_id", msg.ID, "seq", d.Seq, "error", err)
		return d, err
	}
	d.Applied = applied

	if r.threadPeer == "" {
		return d, nil
	}
	if !msg.BetweenPair(r.localUserID, r.threadPeer) {
		d.Thread = IgnoredForeignPair
		return d, nil
	}

	d.Thread = r.thread.AppendLive(msg, d.Seq)
	r.logger.Debug("live message dispatched", "message_id", msg.ID, "seq", d.Seq, "thread", d.Thread)
	if d.Thread != Appended {
		return d, nil
	}

	d.MarkedRead, err = r.receipts.OnLiveMessageArrived(ctx, msg, r.thread.IsOpenFor(r.threadPeer))
	return d, err
}
