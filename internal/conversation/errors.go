// ABOUTME: Error taxonomy for the conversation sync core
// ABOUTME: Sentinel errors for resync and contract misuse plus TransportError for collaborator failures

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPeer means a live event referenced a peer missing from the
	// index. The peer list is stale and the caller should resync.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrPeersChanged means a user profile changed and the peer list should be
	// reloaded.
	ErrPeersChanged = errors.New("peer list changed")

	// ErrSubscriptionMisuse is returned when a subscription scope is opened
	// while another one is still active.
	ErrSubscriptionMisuse = errors.New("subscription misuse")

	// ErrNoThreadOpen is returned by thread operations when no conversation is open.
	ErrNoThreadOpen = errors.New("no conversation open")

	// ErrSessionClosed is returned by every session call after Close.
	ErrSessionClosed = errors.New("session closed")
)

// TransportError reports a failed snapshot or mutation call. The core never
// retries; the call is safe to repeat.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// transportError wraps err for op, leaving an existing TransportError alone.
func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// NeedsResync reports whether err asks the caller to reload the snapshot.
func NeedsResync(err error) bool {
	return errors.Is(err, ErrUnknownPeer) || errors.Is(err, ErrPeersChanged)
}
