// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/message persistence with automatic schema creation and change notification

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.RWMutex
	notifier Notifier
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// SetNotifier registers the receiver of change notifications.
// Pass nil to stop notifying.
func (s *SQLiteStore) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

func (s *SQLiteStore) currentNotifier() Notifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifier
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			avatar_ref   TEXT,
			status_text  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_users_display_name ON users(display_name);

		-- sent_at is unix nanoseconds so ordering survives sub-second sends
		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			sender_id   TEXT NOT NULL REFERENCES users(id),
			receiver_id TEXT NOT NULL REFERENCES users(id),
			content     TEXT NOT NULL,
			sent_at     INTEGER NOT NULL,
			read        INTEGER NOT NULL DEFAULT 0,

			CHECK (sender_id <> receiver_id),
			CHECK (read IN (0, 1))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, sent_at);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, sent_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

// SaveUser inserts or updates a user's profile.
func (s *SQLiteStore) SaveUser(ctx context.Context, user *User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, display_name, created_at, avatar_ref, status_text)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_ref   = excluded.avatar_ref,
			status_text  = excluded.status_text
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.DisplayName,
		user.CreatedAt.UTC().Format(time.RFC3339Nano),
		user.AvatarRef,
		user.StatusText,
	)
	if err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	s.logger.Debug("saved user", "user_id", user.ID)
	if n := s.currentNotifier(); n != nil {
		n.UserChanged(*user)
	}
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, display_name, created_at, avatar_ref, status_text
		FROM users
		WHERE id = ?
	`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// ListUsers returns all users ordered by display name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, `
		SELECT id, display_name, created_at, avatar_ref, status_text
		FROM users
		ORDER BY display_name ASC, id ASC
	`)
}

// FetchPeers returns every user except the local user, ordered by display name.
func (s *SQLiteStore) FetchPeers(ctx context.Context, localUserID string) ([]User, error) {
	return s.queryUsers(ctx, `
		SELECT id, display_name, created_at, avatar_ref, status_text
		FROM users
		WHERE id <> ?
		ORDER BY display_name ASC, id ASC
	`, localUserID)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var createdAtStr string
	var avatar, status sql.NullString

	if err := row.Scan(&user.ID, &user.DisplayName, &createdAtStr, &avatar, &status); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	user.CreatedAt = createdAt
	if avatar.Valid {
		user.AvatarRef = &avatar.String
	}
	if status.Valid {
		user.StatusText = &status.String
	}

	if err := user.Validate(); err != nil {
		return nil, err
	}
	return &user, nil
}

// Send stores a new message and notifies the change stream.
// Both users must exist; blank content is rejected.
func (s *SQLiteStore) Send(ctx context.Context, senderID, receiverID, content string, sentAt time.Time) (*Message, error) {
	if err := CheckContent(content); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     sentAt.UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, sent_at, read)
		VALUES (?, ?, ?, ?, ?, 0)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.SentAt.UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, fmt.Errorf("%w: sender %s or receiver %s", ErrNotFound, senderID, receiverID)
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"receiver_id", msg.ReceiverID,
	)

	if n := s.currentNotifier(); n != nil {
		n.MessageCreated(*msg)
	}
	return msg, nil
}

// MarkRead flips the read flag on every listed message in one transaction.
// Already-read and unknown ids are left alone.
func (s *SQLiteStore) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`UPDATE messages SET read = 1 WHERE read = 0 AND id IN (%s)`, strings.Join(placeholders, ","))
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing read marks: %w", err)
	}

	affected, _ := result.RowsAffected()
	s.logger.Debug("marked messages read", "requested", len(ids), "updated", affected)
	return nil
}

// FetchMessages returns all messages involving the local user, oldest first.
func (s *SQLiteStore) FetchMessages(ctx context.Context, localUserID string) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, sender_id, receiver_id, content, sent_at, read
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY sent_at ASC, rowid ASC
	`, localUserID, localUserID)
}

// FetchHistory returns the messages exchanged between the local user and peer, oldest first.
func (s *SQLiteStore) FetchHistory(ctx context.Context, localUserID, peerID string) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, sender_id, receiver_id, content, sent_at, read
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY sent_at ASC, rowid ASC
	`, localUserID, peerID, peerID, localUserID)
}

// GetMessage retrieves a single message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	msgs, err := s.queryMessages(ctx, `
		SELECT id, sender_id, receiver_id, content, sent_at, read
		FROM messages
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		var sentAt int64
		var read int
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &sentAt, &read); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.SentAt = time.Unix(0, sentAt).UTC()
		msg.Read = read == 1
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

var _ Store = (*SQLiteStore)(nil)
