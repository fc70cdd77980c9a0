// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject collaborator failures

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User    // keyed by user ID
	messages []*Message          // insertion order
	byID     map[string]*Message // keyed by message ID
	notifier Notifier

	// Injected failures. When set, the matching call returns the error
	// without touching state.
	SendErr     error
	MarkReadErr error
	FetchErr    error

	// MarkReadCalls records the ids of every MarkRead call, in order.
	MarkReadCalls [][]string
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users: make(map[string]*User),
		byID:  make(map[string]*Message),
	}
}

// SetNotifier registers the receiver of change notifications.
func (m *MockStore) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// SaveUser stores or replaces a user.
func (m *MockStore) SaveUser(ctx context.Context, user *User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	u := *user
	m.users[u.ID] = &u
	n := m.notifier
	m.mu.Unlock()

	if n != nil {
		n.UserChanged(u)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// ListUsers returns all users ordered by display name.
func (m *MockStore) ListUsers(ctx context.Context) ([]User, error) {
	return m.FetchPeers(ctx, "")
}

// FetchPeers returns every user except localUserID, ordered by display name.
func (m *MockStore) FetchPeers(ctx context.Context, localUserID string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	users := make([]User, 0, len(m.users))
	for _, u := range m.users {
		if u.ID == localUserID {
			continue
		}
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName != users[j].DisplayName {
			return users[i].DisplayName < users[j].DisplayName
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// FetchMessages returns all messages involving localUserID, oldest first.
func (m *MockStore) FetchMessages(ctx context.Context, localUserID string) ([]Message, error) {
	return m.filterMessages(func(msg *Message) bool { return msg.Involves(localUserID) })
}

// FetchHistory returns the messages between localUserID and peerID, oldest first.
func (m *MockStore) FetchHistory(ctx context.Context, localUserID, peerID string) ([]Message, error) {
	return m.filterMessages(func(msg *Message) bool { return msg.BetweenPair(localUserID, peerID) })
}

func (m *MockStore) filterMessages(keep func(*Message) bool) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	var out []Message
	for _, msg := range m.messages {
		if keep(msg) {
			out = append(out, *msg)
		}
	}
	// Stable so equal timestamps keep insertion order
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}

// Send stores a new message and notifies the change stream.
func (m *MockStore) Send(ctx context.Context, senderID, receiverID, content string, sentAt time.Time) (*Message, error) {
	if err := CheckContent(content); err != nil {
		return nil, err
	}
	return m.Insert(Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     sentAt,
	})
}

// Insert stores a fully formed message, keeping its ID and read flag.
// Tests use it to seed history with known identifiers.
func (m *MockStore) Insert(msg Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.SendErr != nil {
		err := m.SendErr
		m.mu.Unlock()
		return nil, err
	}
	if _, ok := m.users[msg.SenderID]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: sender %s", ErrNotFound, msg.SenderID)
	}
	if _, ok := m.users[msg.ReceiverID]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: receiver %s", ErrNotFound, msg.ReceiverID)
	}
	stored := msg
	m.messages = append(m.messages, &stored)
	m.byID[stored.ID] = &stored
	n := m.notifier
	m.mu.Unlock()

	if n != nil {
		n.MessageCreated(stored)
	}
	result := stored
	return &result, nil
}

// MarkRead flips the read flag on the listed messages.
func (m *MockStore) MarkRead(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkReadCalls = append(m.MarkReadCalls, slices.Clone(ids))
	if m.MarkReadErr != nil {
		return m.MarkReadErr
	}
	for _, id := range ids {
		if msg, ok := m.byID[id]; ok {
			msg.Read = true
		}
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// MarkReadCallCount returns how many MarkRead calls were made.
func (m *MockStore) MarkReadCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.MarkReadCalls)
}

// ReadCalls returns a copy of MarkReadCalls, safe to call while the store is in use.
func (m *MockStore) ReadCalls() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]string, len(m.MarkReadCalls))
	for i, ids := range m.MarkReadCalls {
		out[i] = slices.Clone(ids)
	}
	return out
}

var _ Store = (*MockStore)(nil)
