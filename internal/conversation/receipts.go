// ABOUTME: ReadReceiptTracker decides which messages to mark read and asks the Mutator to do it
// ABOUTME: Batch-marks on thread open and marks single live messages while the thread is open

package conversation

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/2389/dmsync/internal/store"
)

// UnreadIncomingIDs returns the ids in thread addressed to localUserID that
// are still unread.
func UnreadIncomingIDs(thread ThreadState, localUserID string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, c := range thread.Clusters {
		for _, m := range c.Messages {
			if m.ReceiverID == localUserID && !m.Read {
				ids[m.ID] = struct{}{}
			}
		}
	}
	return ids
}

// ReadReceiptTracker marks messages read through the Mutator and mirrors
// successful marks into the thread and the index. Failures are returned
// without retry and leave local state unread.
type ReadReceiptTracker struct {
	localUserID string
	mutator     store.Mutator
	index       *ConversationIndex
	thread      *ThreadStore
	logger      *slog.Logger
}

// NewReadReceiptTracker creates a tracker.
func NewReadReceiptTracker(localUserID string, mutator store.Mutator, index *ConversationIndex, thread *ThreadStore, logger *slog.Logger) *ReadReceiptTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadReceiptTracker{
		localUserID: localUserID,
		mutator:     mutator,
		index:       index,
		thread:      thread,
		logger:      logger.With("component", "receipts"),
	}
}

// OnThreadOpened batch-marks unreadIDs read. On success the thread's flags
// flip and peerID's unread count drops to zero. An empty set does nothing.
func (r *ReadReceiptTracker) OnThreadOpened(ctx context.Context, peerID string, unreadIDs map[string]struct{}) error {
	if len(unreadIDs) == 0 {
		return nil
	}

	ids := slices.Sorted(maps.Keys(unreadIDs))
	if err := r.mutator.MarkRead(ctx, ids); err != nil {
		r.logger.Error("failed to mark thread read", "peer_id", peerID, "count", len(ids), "error", err)
		return transportError("mark read", err)
	}

	if r.thread.IsOpenFor(peerID) {
		r.thread.MarkRead(ids...)
	}
	r.index.MarkConversationRead(peerID)

	r.logger.Debug("thread marked read", "peer_id", peerID, "count", len(ids))
	return nil
}

// OnLiveMessageArrived marks msg read on its own when it is addressed to the
// local user, unread, and its thread is open. It reports whether a mark was
// made; otherwise the message stays unread until the conversation is opened.
func (r *ReadReceiptTracker) OnLiveMessageArrived(ctx context.Context, msg store.Message, threadOpen bool) (bool, error) {
	if !threadOpen || msg.Read || msg.ReceiverID != r.localUserID {
		return false, nil
	}

	if err := r.mutator.MarkRead(ctx, []string{msg.ID}); err != nil {
		r.logger.Error("failed to mark live message read", "message_id", msg.ID, "error", err)
		return false, transportError("mark read", err)
	}

	r.thread.MarkRead(msg.ID)
	r.index.MarkMessagesRead(msg.SenderID, msg.ID)
	return true, nil
}
