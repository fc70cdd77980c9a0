// ABOUTME: ThreadStore owns the ordered, clustered message log of the open conversation
// ABOUTME: History is ordered once on open; live messages only ever append to the tail

package conversation

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/2389/dmsync/internal/store"
)

// AppendResult is the outcome of ThreadStore.AppendLive.
type AppendResult int

const (
	Appended AppendResult = iota
	IgnoredNotOpen
	IgnoredForeignPair
	IgnoredDuplicate
)

func (r AppendResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case IgnoredNotOpen:
		return "ignored: no thread open"
	case IgnoredForeignPair:
		return "ignored: other conversation"
	case IgnoredDuplicate:
		return "ignored: duplicate"
	default:
		return fmt.Sprintf("AppendResult(%d)", int(r))
	}
}

// ThreadState is a point-in-time copy of the open conversation.
type ThreadState struct {
	PeerID   string
	Clusters []MessageCluster
	// LastSeq is the highest dispatch sequence appended so far.
	LastSeq uint64
}

// Messages returns the thread's messages in display order.
func (s ThreadState) Messages() []store.Message {
	return Flatten(s.Clusters)
}

// ThreadStore holds at most one open conversation. It is not safe for
// concurrent use; Session serializes access.
type ThreadStore struct {
	localUserID string
	open        bool
	peerID      string
	entries     []entry
	ids         map[string]int
	lastSeq     uint64
	logger      *slog.Logger
}

// NewThreadStore creates a store with no thread open.
func NewThreadStore(localUserID string, logger *slog.Logger) *ThreadStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadStore{
		localUserID: localUserID,
		logger:      logger.With("component", "thread"),
	}
}

// Open builds the thread for peerID from history. History is ordered by
// SentAt, keeping input order for equal times; messages outside the pair and
// repeated ids are dropped. Opening a different peer while a thread is open
// returns ErrSubscriptionMisuse and leaves the open thread untouched.
// Reopening the same peer replaces its state.
func (t *ThreadStore) Open(peerID string, history []store.Message) (ThreadState, error) {
	if t.open && t.peerID != peerID {
		return ThreadState{}, fmt.Errorf("%w: open %s while %s is open", ErrSubscriptionMisuse, peerID, t.peerID)
	}

	ordered := slices.Clone(history)
	slices.SortStableFunc(ordered, func(a, b store.Message) int {
		return a.SentAt.Compare(b.SentAt)
	})

	t.open = true
	t.peerID = peerID
	t.entries = make([]entry, 0, len(ordered))
	t.ids = make(map[string]int, len(ordered))
	t.lastSeq = 0

	dropped := 0
	for _, m := range ordered {
		if !m.BetweenPair(t.localUserID, peerID) {
			dropped++
			continue
		}
		if _, dup := t.ids[m.ID]; dup {
			dropped++
			continue
		}
		t.ids[m.ID] = len(t.entries)
		t.entries = append(t.entries, entry{msg: m})
	}

	t.logger.Debug("thread opened", "peer_id", peerID, "messages", len(t.entries), "dropped", dropped)
	return t.State(), nil
}

// AppendLive appends msg to the tail of the open thread. Messages for another
// conversation and ids already present are ignored. Earlier messages never
// move, so the rendered order is stable regardless of clock skew.
func (t *ThreadStore) AppendLive(msg store.Message, seq uint64) AppendResult {
	if !t.open {
		return IgnoredNotOpen
	}
	if !msg.BetweenPair(t.localUserID, t.peerID) {
		return IgnoredForeignPair
	}
	if _, dup := t.ids[msg.ID]; dup {
		return IgnoredDuplicate
	}

	t.ids[msg.ID] = len(t.entries)
	t.entries = append(t.entries, entry{msg: msg, seq: seq})
	t.lastSeq = max(t.lastSeq, seq)
	return Appended
}

// MarkRead flips the read flag of the given ids and returns how many changed.
func (t *ThreadStore) MarkRead(ids ...string) int {
	changed := 0
	for _, id := range ids {
		i, ok := t.ids[id]
		if !ok || t.entries[i].msg.Read {
			continue
		}
		t.entries[i].msg.Read = true
		changed++
	}
	return changed
}

// State returns a copy of the open thread, or the zero state when closed.
func (t *ThreadStore) State() ThreadState {
	if !t.open {
		return ThreadState{}
	}
	return ThreadState{
		PeerID:   t.peerID,
		Clusters: clusterMessages(t.messages(), t.localUserID),
		LastSeq:  t.lastSeq,
	}
}

// SearchFilter returns a lazy view of the thread's clusters restricted to
// messages whose content contains query, ignoring case. The filtered subset
// is regrouped with the normal clustering rule. The view covers the messages
// present at call time and can be ranged over repeatedly. A blank query
// yields the unfiltered clustering.
func (t *ThreadStore) SearchFilter(query string) iter.Seq[MessageCluster] {
	snapshot := make([]store.Message, len(t.entries))
	for i, e := range t.entries {
		snapshot[i] = e.msg
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	localUserID := t.localUserID

	return func(yield func(MessageCluster) bool) {
		var current *MessageCluster
		for _, m := range snapshot {
			if needle != "" && !strings.Contains(strings.ToLower(m.Content), needle) {
				continue
			}
			if current != nil && current.SenderID == m.SenderID {
				current.Messages = append(current.Messages, m)
				continue
			}
			if current != nil && !yield(*current) {
				return
			}
			current = &MessageCluster{
				SenderID:  m.SenderID,
				FromLocal: m.SenderID == localUserID,
				Messages:  []store.Message{m},
			}
		}
		if current != nil {
			yield(*current)
		}
	}
}

// Close releases the open thread. Closing with nothing open is a no-op.
func (t *ThreadStore) Close() {
	if !t.open {
		return
	}
	t.logger.Debug("thread closed", "peer_id", t.peerID, "messages", len(t.entries))
	t.open = false
	t.peerID = ""
	t.entries = nil
	t.ids = nil
	t.lastSeq = 0
}

// IsOpen reports whether a thread is open.
func (t *ThreadStore) IsOpen() bool { return t.open }

// PeerID returns the open peer, or "" when no thread is open.
func (t *ThreadStore) PeerID() string { return t.peerID }

// IsOpenFor reports whether the thread for peerID is open.
func (t *ThreadStore) IsOpenFor(peerID string) bool {
	return t.open && t.peerID == peerID
}

// Len returns the number of messages in the open thread.
func (t *ThreadStore) Len() int { return len(t.entries) }

func (t *ThreadStore) messages() iter.Seq[store.Message] {
	return func(yield func(store.Message) bool) {
		for _, e := range t.entries {
			if !yield(e.msg) {
				return
			}
		}
	}
}
