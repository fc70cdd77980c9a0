// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers users, message send, history ordering, read marking and notifications

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func strPtr(s string) *string { return &s }

// recordingNotifier captures change notifications.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []Message
	users    []User
}

func (r *recordingNotifier) MessageCreated(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingNotifier) UserChanged(user User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, user)
}

func seedUsers(t *testing.T, s Store, ids ...string) {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		require.NoError(t, s.SaveUser(context.Background(), &User{
			ID:          id,
			DisplayName: "user " + id,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}
}

func TestStore_SaveAndGetUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	user := &User{
		ID:          "alice",
		DisplayName: "Alice",
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		AvatarRef:   strPtr("https://example.com/a.png"),
	}
	require.NoError(t, store.SaveUser(ctx, user))

	got, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.True(t, user.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.AvatarRef)
	assert.Equal(t, "https://example.com/a.png", *got.AvatarRef)
	assert.Nil(t, got.StatusText)
}

func TestStore_SaveUser_UpdatesProfile(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedUsers(t, store, "alice")
	require.NoError(t, store.SaveUser(ctx, &User{
		ID:          "alice",
		DisplayName: "Alice Renamed",
		CreatedAt:   time.Now(),
		StatusText:  strPtr("away"),
	}))

	got, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Renamed", got.DisplayName)
	require.NotNil(t, got.StatusText)
	assert.Equal(t, "away", *got.StatusText)
}

func TestStore_SaveUser_RejectsInvalid(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveUser(context.Background(), &User{ID: "nameless", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestStore_GetUser_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FetchPeers_ExcludesLocalUser(t *testing.T) {
	store := setupTestStore(t)
	seedUsers(t, store, "me", "bob", "alice")

	peers, err := store.FetchPeers(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "alice", peers[0].ID)
	assert.Equal(t, "bob", peers[1].ID)
}

func TestStore_Send(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "me", "alice")

	sentAt := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	msg, err := store.Send(ctx, "me", "alice", "hello", sentAt)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Read)

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.True(t, sentAt.Equal(got.SentAt), "sub-second precision must survive storage")
}

func TestStore_Send_RejectsBlankContent(t *testing.T) {
	store := setupTestStore(t)
	seedUsers(t, store, "me", "alice")

	_, err := store.Send(context.Background(), "me", "alice", "   \n\t", time.Now())
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestStore_Send_UnknownReceiver(t *testing.T) {
	store := setupTestStore(t)
	seedUsers(t, store, "me")

	_, err := store.Send(context.Background(), "me", "ghost", "hi", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FetchHistory_OrderedAndScopedToPair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "me", "alice", "bob")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Send(ctx, "alice", "me", "second", base.Add(2*time.Second))
	require.NoError(t, err)
	_, err = store.Send(ctx, "me", "alice", "first", base.Add(1*time.Second))
	require.NoError(t, err)
	_, err = store.Send(ctx, "bob", "me", "elsewhere", base)
	require.NoError(t, err)

	history, err := store.FetchHistory(ctx, "me", "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)

	all, err := store.FetchMessages(ctx, "me")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "elsewhere", all[0].Content)
}

func TestStore_FetchHistory_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "me", "alice")

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, content := range []string{"a", "b", "c"} {
		_, err := store.Send(ctx, "alice", "me", content, at)
		require.NoError(t, err)
	}

	history, err := store.FetchHistory(ctx, "me", "alice")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{history[0].Content, history[1].Content, history[2].Content})
}

func TestStore_MarkRead(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "me", "alice")

	m1, err := store.Send(ctx, "alice", "me", "one", time.Now())
	require.NoError(t, err)
	m2, err := store.Send(ctx, "alice", "me", "two", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.MarkRead(ctx, []string{m1.ID, "unknown-id"}))

	got1, err := store.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, got1.Read)

	got2, err := store.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.False(t, got2.Read)

	// Marking again is a no-op, never reverts
	require.NoError(t, store.MarkRead(ctx, []string{m1.ID}))
	got1, err = store.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, got1.Read)
}

func TestStore_MarkRead_EmptyIsNoop(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.MarkRead(context.Background(), nil))
}

func TestStore_NotifiesOnWrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := &recordingNotifier{}
	store.SetNotifier(rec)

	seedUsers(t, store, "me", "alice")
	msg, err := store.Send(ctx, "me", "alice", "hi", time.Now())
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.users, 2)
	require.Len(t, rec.messages, 1)
	assert.Equal(t, msg.ID, rec.messages[0].ID)
}

func TestStore_FailedSendDoesNotNotify(t *testing.T) {
	store := setupTestStore(t)
	rec := &recordingNotifier{}
	store.SetNotifier(rec)
	seedUsers(t, store, "me")

	_, err := store.Send(context.Background(), "me", "ghost", "hi", time.Now())
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.messages)
}

func TestMessage_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"complete", Message{ID: "1", SenderID: "a", ReceiverID: "b", SentAt: now}, true},
		{"missing id", Message{SenderID: "a", ReceiverID: "b", SentAt: now}, false},
		{"missing receiver", Message{ID: "1", SenderID: "a", SentAt: now}, false},
		{"self addressed", Message{ID: "1", SenderID: "a", ReceiverID: "a", SentAt: now}, false},
		{"missing sent_at", Message{ID: "1", SenderID: "a", ReceiverID: "b"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			}
		})
	}
}

func TestMessage_Counterpart(t *testing.T) {
	msg := Message{SenderID: "a", ReceiverID: "b"}
	assert.Equal(t, "b", msg.Counterpart("a"))
	assert.Equal(t, "a", msg.Counterpart("b"))
	assert.Equal(t, "", msg.Counterpart("c"))
	assert.True(t, msg.BetweenPair("b", "a"))
	assert.False(t, msg.BetweenPair("a", "c"))
}
