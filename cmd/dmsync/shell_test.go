// ABOUTME: Tests for the interactive shell command handling
// ABOUTME: Drives a Session over MockStore and checks what the shell prints

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dmsync/internal/conversation"
	"github.com/2389/dmsync/internal/feed"
	"github.com/2389/dmsync/internal/store"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer, *store.MockStore) {
	t.Helper()
	color.NoColor = true
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ms := store.NewMockStore()
	for _, u := range []store.User{
		{ID: "me", DisplayName: "Me", CreatedAt: base},
		{ID: "a", DisplayName: "Alice", CreatedAt: base},
		{ID: "b", DisplayName: "Bob", CreatedAt: base},
	} {
		require.NoError(t, ms.SaveUser(ctx, &u))
	}
	_, err := ms.Insert(store.Message{
		ID: "1", SenderID: "a", ReceiverID: "me", Content: "lunch?", SentAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	f := feed.NewFeed(nil, 0)
	t.Cleanup(f.Close)
	ms.SetNotifier(feed.NewStoreNotifier(f))

	sess, err := conversation.NewSession(conversation.Config{
		LocalUserID: "me",
		Loader:      ms,
		Mutator:     ms,
		Feed:        f,
	})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	require.NoError(t, sess.Start(t.Context()))

	var out bytes.Buffer
	return newShell(sess, "Me", &out), &out, ms
}

func TestShell_List(t *testing.T) {
	sh, out, _ := newTestShell(t)

	assert.False(t, sh.exec(t.Context(), "list"))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Alice")
	assert.Contains(t, lines[0], "lunch?")
	assert.Contains(t, lines[0], " 1 ")
	assert.Contains(t, lines[1], "Bob")
	assert.Contains(t, lines[1], "NEW")
}

func TestShell_OpenByNameMarksRead(t *testing.T) {
	sh, out, ms := newTestShell(t)

	sh.exec(t.Context(), "open alice")

	assert.Contains(t, out.String(), "── Alice")
	assert.Contains(t, out.String(), "lunch?")
	assert.Equal(t, 1, ms.MarkReadCallCount())

	list := sh.sess.ListConversations()
	assert.Equal(t, 0, list[0].UnreadCount)
}

func TestShell_SendRequiresOpenThread(t *testing.T) {
	sh, out, _ := newTestShell(t)

	sh.exec(t.Context(), "send hello")
	assert.Contains(t, out.String(), "error:")
	assert.Contains(t, out.String(), conversation.ErrNoThreadOpen.Error())
}

func TestShell_SendToOpenThread(t *testing.T) {
	sh, out, ms := newTestShell(t)
	sh.exec(t.Context(), "open a")
	out.Reset()

	sh.exec(t.Context(), "send  on my way ")
	assert.NotContains(t, out.String(), "error:")

	msgs, err := ms.FetchHistory(t.Context(), "me", "a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "on my way", msgs[1].Content)
}

func TestShell_FailedOpenKeepsPreviousThread(t *testing.T) {
	sh, out, ms := newTestShell(t)
	sh.exec(t.Context(), "open a")
	out.Reset()

	ms.FetchErr = errors.New("boom")
	sh.exec(t.Context(), "open bob")

	assert.Contains(t, out.String(), "error: fetch history: boom")
	assert.NotContains(t, out.String(), "──")
	assert.NotContains(t, out.String(), "No messages yet")

	state, open := sh.sess.Thread()
	require.True(t, open)
	assert.Equal(t, "a", state.PeerID)

	ms.FetchErr = nil
	out.Reset()
	sh.exec(t.Context(), "send still here")
	assert.NotContains(t, out.String(), "error:")

	msgs, err := ms.FetchHistory(t.Context(), "me", "a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "still here", msgs[1].Content)
}

func TestShell_OpenWithMarkReadFailureShowsThread(t *testing.T) {
	sh, out, ms := newTestShell(t)
	ms.MarkReadErr = errors.New("offline")

	sh.exec(t.Context(), "open a")

	assert.Contains(t, out.String(), "── Alice")
	assert.Contains(t, out.String(), "lunch?")
	assert.Contains(t, out.String(), "error: mark read: offline")
	assert.Equal(t, "a", sh.peer.ID)
}

func TestShell_Errors(t *testing.T) {
	sh, out, _ := newTestShell(t)

	tests := []struct {
		line string
		want string
	}{
		{line: "open", want: "usage: open PEER"},
		{line: "open zed", want: conversation.ErrUnknownPeer.Error()},
		{line: "grep x", want: conversation.ErrNoThreadOpen.Error()},
		{line: "dance", want: `unknown command "dance"`},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			out.Reset()
			assert.False(t, sh.exec(t.Context(), tt.line))
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestShell_Find(t *testing.T) {
	sh, out, _ := newTestShell(t)

	sh.exec(t.Context(), "find bo")

	assert.Contains(t, out.String(), "Bob")
	assert.NotContains(t, out.String(), "Alice")
}

func TestShell_Grep(t *testing.T) {
	sh, out, _ := newTestShell(t)
	sh.exec(t.Context(), "open a")
	out.Reset()

	sh.exec(t.Context(), "grep LUNCH")
	assert.Contains(t, out.String(), "lunch?")
	assert.Contains(t, out.String(), "1 matching")
}

func TestShell_RunStopsOnQuit(t *testing.T) {
	sh, out, _ := newTestShell(t)

	err := sh.run(t.Context(), strings.NewReader("help\nquit\nlist\n"))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Commands:")
	assert.NotContains(t, out.String(), "Alice", "nothing runs after quit")
}
