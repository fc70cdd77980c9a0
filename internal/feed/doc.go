// Package feed provides the live event stream consumed by the sync core.
//
// # Broadcaster
//
// Broadcaster is a generic in-memory pub/sub. Each subscription carries a
// predicate that scopes what it receives:
//
//	sub := f.Subscribe(ctx, feed.InvolvingUser(localID))
//	defer sub.Cancel()
//	for ev := range sub.C() { ... }
//
// Delivery to a single subscriber preserves publish order. By default
// Publish waits for a full subscriber to drain (at-least-once for live
// subscribers); WithDropOnFull switches to best-effort delivery, which is
// what state-change hints use.
//
// Cancelling a subscription closes Done immediately and C once in-flight
// publishes release it. Nothing new is sent after Cancel returns; values
// already buffered stay readable until drained.
//
// # Events
//
// Event wraps either a created Message or a changed User. StoreNotifier
// adapts a Feed to store.Notifier so that local writes come back through the
// same path as remote ones.
package feed
