// ABOUTME: ConversationIndex keeps the recency-sorted conversation list for the local user
// ABOUTME: Tracks last-message previews, unread counts and applied message ids per peer

package conversation

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/2389/dmsync/internal/dedupe"
	"github.com/2389/dmsync/internal/preview"
	"github.com/2389/dmsync/internal/store"
)

// Summary labels shown next to a conversation.
const (
	LabelRecent = "RECENT"
	LabelNew    = "NEW"
)

// ConversationSummary is one row of the conversation list. A conversation is
// identified by the peer's user id.
type ConversationSummary struct {
	PeerID             string
	PeerName           string
	LastMessagePreview string
	LastActivityAt     time.Time
	UnreadCount        int
	HasHistory         bool
}

// Label returns RECENT for conversations with messages and NEW otherwise.
func (s ConversationSummary) Label() string {
	if s.HasHistory {
		return LabelRecent
	}
	return LabelNew
}

type summaryState struct {
	summary     ConversationSummary
	peer        store.User
	lastContent string // raw content behind the preview
	lastSeq     uint64
	touched     uint64
	unread      map[string]struct{}
	seen        map[string]struct{} // every id applied since Initialize
}

// observe records id as applied and reports whether it already was.
func (s *summaryState) observe(id string) bool {
	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = struct{}{}
	return false
}

func (s *summaryState) syncUnread() {
	s.summary.UnreadCount = len(s.unread)
}

// ConversationIndex owns every ConversationSummary of the session. It is not
// safe for concurrent use; Session serializes access.
type ConversationIndex struct {
	localUserID string
	byPeer      map[string]*summaryState
	order       []*summaryState
	applied     *dedupe.Window
	previews    *preview.Renderer
	touches     uint64
	logger      *slog.Logger
}

// NewConversationIndex creates an empty index. A nil window or renderer gets
// a default one. The window only short-circuits recent redeliveries; ids it
// has forgotten are still caught by the per-conversation applied set.
func NewConversationIndex(applied *dedupe.Window, previews *preview.Renderer, logger *slog.Logger) *ConversationIndex {
	if applied == nil {
		applied = dedupe.New(0, 0)
	}
	if previews == nil {
		previews = preview.NewRenderer(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationIndex{
		byPeer:   make(map[string]*summaryState),
		applied:  applied,
		previews: previews,
		logger:   logger.With("component", "index"),
	}
}

// Initialize replaces the index with one summary per peer, built from
// messages (assumed ascending by time). The latest message per peer wins,
// ties going to the later input position. Every message id is recorded as
// applied so that redelivered live events are absorbed.
func (x *ConversationIndex) Initialize(peers []store.User, messages []store.Message, localUserID string) []ConversationSummary {
	x.localUserID = localUserID
	x.byPeer = make(map[string]*summaryState, len(peers))
	x.order = x.order[:0]
	x.applied.Reset()

	for _, p := range peers {
		if p.ID == localUserID {
			continue
		}
		s := &summaryState{
			summary: ConversationSummary{
				PeerID:             p.ID,
				PeerName:           p.DisplayName,
				LastMessagePreview: preview.Placeholder,
				LastActivityAt:     p.CreatedAt,
			},
			peer:   p,
			unread: make(map[string]struct{}),
			seen:   make(map[string]struct{}),
		}
		x.byPeer[p.ID] = s
		x.order = append(x.order, s)
	}

	skipped := 0
	for _, m := range messages {
		s, ok := x.byPeer[m.Counterpart(localUserID)]
		if !ok {
			skipped++
			continue
		}
		x.applied.Mark(m.ID)
		if s.observe(m.ID) {
			continue
		}
		if !s.summary.HasHistory || !m.SentAt.Before(s.summary.LastActivityAt) {
			x.setLatest(s, m, 0)
		}
		x.trackUnread(s, m, localUserID)
	}
	for _, s := range x.order {
		s.syncUnread()
	}

	x.resort()
	x.logger.Info("index initialized",
		"peers", len(x.order),
		"messages", len(messages),
		"skipped", skipped,
	)
	return x.List()
}

// ApplyIncomingMessage folds a live message into its conversation. It
// returns the updated summary and whether the message was newly applied.
// A message for a peer missing from the index returns ErrUnknownPeer and
// changes nothing; a message already applied is a no-op.
func (x *ConversationIndex) ApplyIncomingMessage(msg store.Message, localUserID string, seq uint64) (ConversationSummary, bool, error) {
	peerID := msg.Counterpart(localUserID)
	if peerID == "" {
		x.logger.Debug("ignoring message outside local conversations", "message_id", msg.ID)
		return ConversationSummary{}, false, nil
	}

	s, ok := x.byPeer[peerID]
	if !ok {
		return ConversationSummary{}, false, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	// Both must record the id, so no short-circuit.
	inWindow := x.applied.Observe(msg.ID)
	if s.observe(msg.ID) || inWindow {
		x.logger.Debug("duplicate message absorbed", "message_id", msg.ID, "seq", seq)
		return s.summary, false, nil
	}

	if !s.summary.HasHistory || newerThan(msg.SentAt, seq, s.summary.LastActivityAt, s.lastSeq) {
		x.setLatest(s, msg, seq)
	}
	x.trackUnread(s, msg, localUserID)
	s.syncUnread()

	x.touches++
	s.touched = x.touches
	x.resort()

	return s.summary, true, nil
}

// MarkConversationRead resets the unread count of peerID.
func (x *ConversationIndex) MarkConversationRead(peerID string) {
	s, ok := x.byPeer[peerID]
	if !ok {
		return
	}
	clear(s.unread)
	s.syncUnread()
	x.resort()
}

// MarkMessagesRead drops ids from the unread set of peerID.
func (x *ConversationIndex) MarkMessagesRead(peerID string, ids ...string) {
	s, ok := x.byPeer[peerID]
	if !ok {
		return
	}
	for _, id := range ids {
		delete(s.unread, id)
	}
	s.syncUnread()
}

// List returns the summaries, most recent activity first.
func (x *ConversationIndex) List() []ConversationSummary {
	out := make([]ConversationSummary, len(x.order))
	for i, s := range x.order {
		out[i] = s.summary
	}
	return out
}

// Get returns the summary for peerID.
func (x *ConversationIndex) Get(peerID string) (ConversationSummary, bool) {
	s, ok := x.byPeer[peerID]
	if !ok {
		return ConversationSummary{}, false
	}
	return s.summary, true
}

// Peer returns the user record for peerID as of the last Initialize.
func (x *ConversationIndex) Peer(peerID string) (store.User, bool) {
	s, ok := x.byPeer[peerID]
	if !ok {
		return store.User{}, false
	}
	return s.peer, true
}

// Search returns summaries whose peer name or last message contains query,
// ignoring case. The full message content is matched, not just the
// truncated preview. An empty query returns the whole list.
func (x *ConversationIndex) Search(query string) []ConversationSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return x.List()
	}
	var out []ConversationSummary
	for _, s := range x.order {
		if strings.Contains(strings.ToLower(s.summary.PeerName), q) ||
			strings.Contains(strings.ToLower(s.summary.LastMessagePreview), q) ||
			strings.Contains(strings.ToLower(s.lastContent), q) {
			out = append(out, s.summary)
		}
	}
	return out
}

// Len returns the number of conversations.
func (x *ConversationIndex) Len() int {
	return len(x.order)
}

func (x *ConversationIndex) setLatest(s *summaryState, m store.Message, seq uint64) {
	s.summary.LastMessagePreview = x.previewOf(m.Content)
	s.lastContent = m.Content
	s.summary.LastActivityAt = m.SentAt
	s.summary.HasHistory = true
	s.lastSeq = seq
}

func (x *ConversationIndex) trackUnread(s *summaryState, m store.Message, localUserID string) {
	if m.ReceiverID == localUserID && m.SenderID == s.summary.PeerID && !m.Read {
		s.unread[m.ID] = struct{}{}
	}
}

func (x *ConversationIndex) previewOf(content string) string {
	if p := x.previews.Render(content); p != "" {
		return p
	}
	return preview.Truncate(strings.Join(strings.Fields(content), " "), x.previews.MaxRunes())
}

// resort orders by activity descending; equal times put the most recently
// touched conversation first, then fall back to name and id.
func (x *ConversationIndex) resort() {
	slices.SortStableFunc(x.order, func(a, b *summaryState) int {
		if c := b.summary.LastActivityAt.Compare(a.summary.LastActivityAt); c != 0 {
			return c
		}
		if c := cmp.Compare(b.touched, a.touched); c != 0 {
			return c
		}
		if c := cmp.Compare(a.summary.PeerName, b.summary.PeerName); c != 0 {
			return c
		}
		return cmp.Compare(a.summary.PeerID, b.summary.PeerID)
	})
}
