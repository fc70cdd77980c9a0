// Package conversation is the real-time sync core for two-party direct
// messages.
//
// # Components
//
//   - ConversationIndex: recency-sorted conversation list with previews and
//     unread counts, deduplicated by message id.
//   - ThreadStore: the single open conversation as clusters of same-sender
//     runs. History is ordered once on open; live messages only append.
//   - ReadReceiptTracker: marks messages read through the Mutator and mirrors
//     the result locally.
//   - EventRouter: owns the feed subscription, numbers each event and routes
//     it to the index and the open thread.
//   - Session: the sync context. It owns all of the above, serializes every
//     entry point behind one mutex and publishes Change notifications.
//
// # Usage
//
//	sess, err := conversation.NewSession(conversation.Config{
//	    LocalUserID: "alice",
//	    Loader:      st,
//	    Mutator:     st,
//	    Feed:        events,
//	})
//	if err := sess.Start(ctx); err != nil { ... }
//	defer sess.Close()
//
//	updates := sess.Updates(ctx)
//	view, err := sess.OpenConversation(ctx, "bob")
//
// # Ordering
//
// The index orders conversations by last activity; a message replaces a
// preview only when its SentAt is later, or equal with a later dispatch
// sequence. A thread never reorders messages already shown: a live message
// with a skewed clock still lands at the tail.
//
// # Errors
//
// Collaborator failures come back as *TransportError and are never retried.
// ErrUnknownPeer and ErrPeersChanged ask for a resync, which Session performs
// itself for live events. ErrSubscriptionMisuse reports an attempt to open a
// second scope while one is active; nothing changes when it is returned.
//
// A live message published before OpenConversation begins but dispatched
// after it returns is appended normally. Components used directly, without
// Session, give no such guarantee for events dispatched before ThreadStore.Open.
package conversation
