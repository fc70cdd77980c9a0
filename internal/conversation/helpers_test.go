// ABOUTME: Shared fixtures for conversation package tests
// ABOUTME: Builds users and messages on a fixed clock so ordering is deterministic

package conversation

import (
	"time"

	"github.com/2389/dmsync/internal/store"
)

const local = "me"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func user(id, name string, created time.Time) store.User {
	return store.User{ID: id, DisplayName: name, CreatedAt: created}
}

func msg(id, from, to, content string, sentAt time.Time) store.Message {
	return store.Message{ID: id, SenderID: from, ReceiverID: to, Content: content, SentAt: sentAt}
}

func readMsg(id, from, to, content string, sentAt time.Time) store.Message {
	m := msg(id, from, to, content, sentAt)
	m.Read = true
	return m
}

func ids(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func peerOrder(list []ConversationSummary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.PeerID
	}
	return out
}

func findSummary(list []ConversationSummary, peerID string) (ConversationSummary, bool) {
	for _, s := range list {
		if s.PeerID == peerID {
			return s, true
		}
	}
	return ConversationSummary{}, false
}
