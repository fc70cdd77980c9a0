// ABOUTME: Interactive shell over a conversation Session
// ABOUTME: Lists conversations, opens threads, sends and searches, and prints live updates

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/dmsync/internal/conversation"
	"github.com/2389/dmsync/internal/dedupe"
	"github.com/2389/dmsync/internal/feed"
	"github.com/2389/dmsync/internal/preview"
	"github.com/2389/dmsync/internal/store"
)

const shellHelp = `Commands:
  list              Show conversations, most recent first
  open PEER         Open the thread with PEER (id or display name)
  close             Close the open thread
  send TEXT         Send TEXT to the open thread
  find QUERY        Filter conversations by name or preview
  grep QUERY        Filter the open thread by content
  resync            Reload peers and messages
  help              Show this help
  quit              Leave the shell`

func newShellCmd() *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session as a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if as == "" {
				as = cfg.Session.LocalUserID
			}
			if as == "" {
				return fmt.Errorf("--as is required (or set session.local_user_id)")
			}

			st, logger, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			me, err := st.GetUser(cmd.Context(), as)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("unknown user %q; create it with: dmsync seed --user %s --name NAME", as, as)
			}
			if err != nil {
				return err
			}

			events := feed.NewFeed(logger, cfg.Feed.BufferSize)
			defer events.Close()
			st.SetNotifier(feed.NewStoreNotifier(events))
			defer st.SetNotifier(nil)

			applied := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
			defer applied.Close()

			sess, err := conversation.NewSession(conversation.Config{
				LocalUserID: me.ID,
				Loader:      st,
				Mutator:     st,
				Feed:        events,
				Applied:     applied,
				Previews:    preview.NewRenderer(cfg.Preview.MaxRunes),
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.Start(cmd.Context()); err != nil {
				return fmt.Errorf("starting session: %w", err)
			}

			sh := newShell(sess, me.DisplayName, cmd.OutOrStdout())
			updates := sess.Updates(cmd.Context())
			go sh.watch(updates)

			cyan := color.New(color.FgCyan)
			cyan.Fprintf(cmd.OutOrStdout(), "Signed in as %s. Type 'help' for commands.\n", me.DisplayName)
			sh.exec(cmd.Context(), "list")
			return sh.run(cmd.Context(), os.Stdin)
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "local user id")
	return cmd
}

// shell drives a Session from line-oriented input. Output is serialized
// because live updates are printed from the watch goroutine.
type shell struct {
	sess   *conversation.Session
	myName string

	mu      sync.Mutex
	out     io.Writer
	peer    store.User          // open thread's peer
	printed map[string]struct{} // message ids shown for the open thread
}

func newShell(sess *conversation.Session, myName string, out io.Writer) *shell {
	return &shell{
		sess:    sess,
		myName:  myName,
		out:     out,
		printed: make(map[string]struct{}),
	}
}

func (sh *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		sh.printf("> ")
		if !scanner.Scan() {
			sh.printf("\n")
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		if quit := sh.exec(ctx, scanner.Text()); quit {
			return nil
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
// Command errors are printed, not returned.
func (sh *shell) exec(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(name) {
	case "":
	case "list", "ls":
		sh.printConversations(sh.sess.ListConversations())
	case "find":
		sh.printConversations(sh.sess.SearchConversations(arg))
	case "open":
		err = sh.open(ctx, arg)
	case "close":
		sh.sess.CloseConversation()
		sh.mu.Lock()
		sh.peer = store.User{}
		clear(sh.printed)
		sh.mu.Unlock()
	case "send":
		err = sh.send(ctx, arg)
	case "grep":
		err = sh.grep(arg)
	case "resync":
		err = sh.sess.Resync(ctx)
	case "help", "?":
		sh.printf("%s\n", shellHelp)
	case "quit", "exit", "q":
		return true
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", name)
	}

	if err != nil {
		sh.printf("%s\n", color.RedString("error: %v", err))
	}
	return false
}

// resolvePeer accepts a peer id or a case-insensitive display name.
func (sh *shell) resolvePeer(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: open PEER")
	}

	var byName []string
	for _, s := range sh.sess.ListConversations() {
		if s.PeerID == arg {
			return s.PeerID, nil
		}
		if strings.EqualFold(s.PeerName, arg) {
			byName = append(byName, s.PeerID)
		}
	}

	switch len(byName) {
	case 0:
		return "", fmt.Errorf("%w: %s", conversation.ErrUnknownPeer, arg)
	case 1:
		return byName[0], nil
	default:
		return "", fmt.Errorf("%q matches %d users, use an id: %s", arg, len(byName), strings.Join(byName, ", "))
	}
}

func (sh *shell) open(ctx context.Context, arg string) error {
	peerID, err := sh.resolvePeer(arg)
	if err != nil {
		return err
	}

	// A failed mark-read still opens the thread; any other failure leaves
	// the previous thread, if any, in place.
	view, err := sh.sess.OpenConversation(ctx, peerID)
	if view.State.PeerID != peerID {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.peer = view.Peer
	clear(sh.printed)

	header := color.New(color.FgCyan, color.Bold)
	header.Fprintf(sh.out, "── %s ", view.Peer.DisplayName)
	if view.Peer.StatusText != nil {
		fmt.Fprint(sh.out, color.HiBlackString("(%s) ", *view.Peer.StatusText))
	}
	fmt.Fprintln(sh.out)

	if len(view.State.Clusters) == 0 {
		fmt.Fprintln(sh.out, color.HiBlackString("  %s", preview.Placeholder))
	}
	for _, c := range view.State.Clusters {
		sh.printClusterLocked(c)
	}

	// The thread is open even when marking read failed.
	return err
}

func (sh *shell) send(ctx context.Context, text string) error {
	sh.mu.Lock()
	peerID := sh.peer.ID
	sh.mu.Unlock()

	if peerID == "" {
		return conversation.ErrNoThreadOpen
	}
	_, err := sh.sess.SendMessage(ctx, peerID, text)
	return err
}

func (sh *shell) grep(query string) error {
	view, err := sh.sess.SearchThread(query)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	n := 0
	for c := range view {
		sh.printClusterLocked(c)
		n += len(c.Messages)
	}
	fmt.Fprintln(sh.out, color.HiBlackString("%d matching", n))
	return nil
}

// watch prints live thread messages and unread notices until sub ends.
func (sh *shell) watch(sub *feed.Subscription[conversation.Change]) {
	for {
		select {
		case <-sub.Done():
			return
		case c, ok := <-sub.C():
			if !ok {
				return
			}
			switch c.Kind {
			case conversation.ChangeThread:
				sh.printNewMessages()
			case conversation.ChangeConversations:
				sh.notifyUnread(c.PeerID)
			}
		}
	}
}

func (sh *shell) printNewMessages() {
	state, open := sh.sess.Thread()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if !open || state.PeerID != sh.peer.ID {
		return
	}
	for _, c := range state.Clusters {
		fresh := conversation.MessageCluster{SenderID: c.SenderID, FromLocal: c.FromLocal}
		for _, m := range c.Messages {
			if _, ok := sh.printed[m.ID]; !ok {
				fresh.Messages = append(fresh.Messages, m)
			}
		}
		if len(fresh.Messages) > 0 {
			fmt.Fprintln(sh.out)
			sh.printClusterLocked(fresh)
		}
	}
}

func (sh *shell) notifyUnread(peerID string) {
	if peerID == "" {
		return
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if peerID == sh.peer.ID {
		return
	}
	for _, s := range sh.sess.ListConversations() {
		if s.PeerID == peerID && s.UnreadCount > 0 {
			fmt.Fprintf(sh.out, "\n%s %s: %s\n",
				color.YellowString("●"), s.PeerName, s.LastMessagePreview)
			return
		}
	}
}

// printClusterLocked prints one sender's run of messages. Callers hold sh.mu.
func (sh *shell) printClusterLocked(c conversation.MessageCluster) {
	name := sh.peer.DisplayName
	nameColor := color.New(color.FgGreen, color.Bold)
	if c.FromLocal {
		name = sh.myName
		nameColor = color.New(color.FgBlue, color.Bold)
	}

	nameColor.Fprintf(sh.out, "  %s", name)
	fmt.Fprintln(sh.out, color.HiBlackString("  %s", c.Messages[0].SentAt.Local().Format(time.Kitchen)))
	for _, m := range c.Messages {
		fmt.Fprintf(sh.out, "    %s\n", m.Content)
		sh.printed[m.ID] = struct{}{}
	}
}

func (sh *shell) printConversations(list []conversation.ConversationSummary) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if len(list) == 0 {
		fmt.Fprintln(sh.out, color.HiBlackString("  no conversations"))
		return
	}

	bold := color.New(color.Bold)
	for _, s := range list {
		badge := "   "
		if s.UnreadCount > 0 {
			badge = color.YellowString("%2d ", s.UnreadCount)
		}
		fmt.Fprint(sh.out, badge)
		bold.Fprintf(sh.out, "%-20s", s.PeerName)
		fmt.Fprint(sh.out, color.HiBlackString(" %-6s %-16s ", s.Label(), humanize.Time(s.LastActivityAt)))
		fmt.Fprintln(sh.out, s.LastMessagePreview)
	}
}

func (sh *shell) printf(format string, args ...any) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}
