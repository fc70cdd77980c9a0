// ABOUTME: Ordering and clustering helpers shared by the index and the thread store
// ABOUTME: Implements the newer-than rule and same-sender run grouping

package conversation

import (
	"iter"
	"time"

	"github.com/2389/dmsync/internal/store"
)

// MessageCluster is a maximal run of consecutive messages from one sender.
type MessageCluster struct {
	SenderID string
	// FromLocal is true when the local user sent the run.
	FromLocal bool
	Messages  []store.Message
}

// entry is a message with the dispatch sequence it arrived with. Snapshot
// messages carry sequence 0.
type entry struct {
	msg store.Message
	seq uint64
}

// newerThan reports whether (at, seq) sorts after (otherAt, otherSeq):
// greater time wins, equal times fall back to the later dispatch.
func newerThan(at time.Time, seq uint64, otherAt time.Time, otherSeq uint64) bool {
	if !at.Equal(otherAt) {
		return at.After(otherAt)
	}
	return seq > otherSeq
}

// clusterMessages groups msgs by maximal same-sender runs. Adjacent clusters
// never share a sender and the flattened clusters equal msgs.
func clusterMessages(msgs iter.Seq[store.Message], localUserID string) []MessageCluster {
	var clusters []MessageCluster
	for m := range msgs {
		clusters = appendToClusters(clusters, m, localUserID)
	}
	return clusters
}

func appendToClusters(clusters []MessageCluster, m store.Message, localUserID string) []MessageCluster {
	if n := len(clusters); n > 0 && clusters[n-1].SenderID == m.SenderID {
		clusters[n-1].Messages = append(clusters[n-1].Messages, m)
		return clusters
	}
	return append(clusters, MessageCluster{
		SenderID:  m.SenderID,
		FromLocal: m.SenderID == localUserID,
		Messages:  []store.Message{m},
	})
}

// Flatten returns the messages of clusters in order.
func Flatten(clusters []MessageCluster) []store.Message {
	var out []store.Message
	for _, c := range clusters {
		out = append(out, c.Messages...)
	}
	return out
}
