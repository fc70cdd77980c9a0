// Package store provides persistence for users and direct messages.
//
// # Architecture
//
// The sync core never talks to a database. It consumes two narrow
// interfaces defined here:
//
//   - SnapshotLoader: point-in-time reads (peers, all messages, one pair's history)
//   - Mutator: writes (send a message, batch mark-as-read)
//
// Store combines both with user management. SQLiteStore implements it on
// modernc.org/sqlite; MockStore is an in-memory double with injectable
// failures for tests.
//
// # Change Notification
//
// A real deployment receives live events from the remote store's change
// stream. Here every successful write is reported to a Notifier:
//
//	st.SetNotifier(feedNotifier)
//
// The notifier is called after the write commits, outside any store lock.
//
// # Data Models
//
//   - User: id, display name, created_at, optional avatar and status
//   - Message: id, sender, receiver, content, sent_at, read flag
//
// Both carry Validate methods. Rows that fail validation are reported as
// ErrInvalidRecord rather than coerced.
//
// # Time Storage
//
// Message timestamps are stored as unix nanoseconds so that two messages sent
// within the same second keep their order. Ties are broken by insertion order.
package store
