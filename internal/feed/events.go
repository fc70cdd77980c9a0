// ABOUTME: Typed live events carried by the message feed
// ABOUTME: Provides the Feed type, scope predicates and a store.Notifier adapter

package feed

import (
	"context"
	"log/slog"

	"github.com/2389/dmsync/internal/store"
)

// EventType categorizes a feed notification
type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventUserChanged    EventType = "user_changed"
)

// Event is a single live notification. Exactly one of Message or User is
// set, according to Type.
type Event struct {
	Type    EventType
	Message *store.Message
	User    *store.User
}

// MessageCreated builds a message-creation event.
func MessageCreated(msg store.Message) Event {
	return Event{Type: EventMessageCreated, Message: &msg}
}

// UserChanged builds a user-profile event.
func UserChanged(user store.User) Event {
	return Event{Type: EventUserChanged, User: &user}
}

// Feed is the live event stream.
type Feed = Broadcaster[Event]

// NewFeed creates an event feed. Feeds never drop events for slow subscribers.
func NewFeed(logger *slog.Logger, bufferSize int) *Feed {
	return NewBroadcaster[Event](
		WithLogger(logger),
		WithComponent("feed"),
		WithBufferSize(bufferSize),
	)
}

// InvolvingUser scopes a subscription to messages the user sent or received,
// plus every user change.
func InvolvingUser(userID string) Predicate[Event] {
	return func(e Event) bool {
		switch e.Type {
		case EventMessageCreated:
			return e.Message != nil && e.Message.Involves(userID)
		case EventUserChanged:
			return e.User != nil
		default:
			return false
		}
	}
}

// BetweenPair scopes a subscription to messages exchanged by a and b.
func BetweenPair(a, b string) Predicate[Event] {
	return func(e Event) bool {
		return e.Type == EventMessageCreated && e.Message != nil && e.Message.BetweenPair(a, b)
	}
}

// StoreNotifier publishes store writes onto a feed, standing in for the
// remote data store's change stream.
type StoreNotifier struct {
	feed *Feed
}

// NewStoreNotifier wraps f as a store.Notifier.
func NewStoreNotifier(f *Feed) *StoreNotifier {
	return &StoreNotifier{feed: f}
}

// MessageCreated implements store.Notifier.
func (n *StoreNotifier) MessageCreated(msg store.Message) {
	n.feed.Publish(context.Background(), MessageCreated(msg))
}

// UserChanged implements store.Notifier.
func (n *StoreNotifier) UserChanged(user store.User) {
	n.feed.Publish(context.Background(), UserChanged(user))
}

var _ store.Notifier = (*StoreNotifier)(nil)
