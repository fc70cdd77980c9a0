// ABOUTME: Store interfaces and entity types for dmsync persistence
// ABOUTME: Defines User, Message and the snapshot/mutation contracts the sync core consumes

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidRecord is returned when a record is missing required fields.
// Records are rejected, never coerced into a partial entity.
var ErrInvalidRecord = errors.New("invalid record")

// ErrEmptyContent is returned when a message body is blank
var ErrEmptyContent = errors.New("message content is empty")

// User is a participant. The sync core treats users as read-only.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
	AvatarRef   *string // optional
	StatusText  *string // optional
}

// Validate checks that all required user fields are present.
func (u *User) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidRecord)
	}
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}
	if u.DisplayName == "" {
		return fmt.Errorf("%w: user %s has no display name", ErrInvalidRecord, u.ID)
	}
	if u.CreatedAt.IsZero() {
		return fmt.Errorf("%w: user %s has no created_at", ErrInvalidRecord, u.ID)
	}
	return nil
}

// Message is a single direct message between two users.
// Read only ever flips from false to true.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	SentAt     time.Time // client clock, may be skewed
	Read       bool
}

// Validate checks that all required message fields are present.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidRecord)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidRecord)
	}
	if m.SenderID == "" || m.ReceiverID == "" {
		return fmt.Errorf("%w: message %s is missing sender or receiver", ErrInvalidRecord, m.ID)
	}
	if m.SenderID == m.ReceiverID {
		return fmt.Errorf("%w: message %s is addressed to its sender", ErrInvalidRecord, m.ID)
	}
	if m.SentAt.IsZero() {
		return fmt.Errorf("%w: message %s has no sent_at", ErrInvalidRecord, m.ID)
	}
	return nil
}

// Involves reports whether userID is the sender or receiver of the message.
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart returns the participant that is not localUserID.
// Returns "" when localUserID is not part of the message.
func (m *Message) Counterpart(localUserID string) string {
	switch localUserID {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	default:
		return ""
	}
}

// BetweenPair reports whether the message was exchanged between a and b, in either direction.
func (m *Message) BetweenPair(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// SnapshotLoader returns point-in-time data fetched before live updates begin.
// Errors are surfaced to the caller and never retried here.
type SnapshotLoader interface {
	// FetchPeers returns every user except the local user, ordered by display name.
	FetchPeers(ctx context.Context, localUserID string) ([]User, error)
	// FetchMessages returns all messages involving the local user, oldest first.
	FetchMessages(ctx context.Context, localUserID string) ([]Message, error)
	// FetchHistory returns the messages between the local user and peer, oldest first.
	FetchHistory(ctx context.Context, localUserID, peerID string) ([]Message, error)
}

// Mutator performs writes against the backing store.
type Mutator interface {
	Send(ctx context.Context, senderID, receiverID, content string, sentAt time.Time) (*Message, error)
	MarkRead(ctx context.Context, ids []string) error
}

// Notifier is told about every record the store creates or changes.
// It stands in for the remote data store's change stream.
type Notifier interface {
	MessageCreated(msg Message)
	UserChanged(user User)
}

// Store is the full persistence contract.
type Store interface {
	SnapshotLoader
	Mutator

	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Close releases any resources held by the store
	Close() error
}

// CheckContent rejects blank (whitespace-only) message bodies.
func CheckContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}
