// Package dedupe tracks which message ids have already been applied so that
// redelivered live events do not double-count.
//
// A Window remembers ids for a TTL (zero keeps them until evicted) and caps
// its size by evicting the least recently observed id. Reset empties the
// window; the conversation index calls it before reseeding from a snapshot.
package dedupe
