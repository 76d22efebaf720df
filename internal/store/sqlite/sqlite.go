package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/marketchat/marketchat-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	customer_id     TEXT NOT NULL,
	vendor_id       TEXT NOT NULL,
	customer_unread INTEGER NOT NULL DEFAULT 0,
	vendor_unread   INTEGER NOT NULL DEFAULT 0,
	last_message_at DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (customer_id, vendor_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	sender_role     TEXT NOT NULL,
	content         TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	is_compressed   INTEGER NOT NULL DEFAULT 0,
	is_read         INTEGER NOT NULL DEFAULT 0,
	read_at         DATETIME,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at);
`

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

// ==== ConversationStore implementation ====

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	query := `
		INSERT INTO conversations (id, customer_id, vendor_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.CustomerID, conv.VendorID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

const conversationColumns = `
	id, customer_id, vendor_id, customer_unread, vendor_unread,
	last_message_at, created_at, updated_at
`

func scanConversation(row interface{ Scan(...any) error }) (*store.Conversation, error) {
	var conv store.Conversation
	var lastMessageAt sql.NullTime
	err := row.Scan(
		&conv.ID,
		&conv.CustomerID,
		&conv.VendorID,
		&conv.CustomerUnread,
		&conv.VendorUnread,
		&lastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		conv.LastMessageAt = &t
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// GetConversationByPair retrieves the conversation for a (customer, vendor) pair.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, customerID, vendorID string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE customer_id = ? AND vendor_id = ?`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, customerID, vendorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation by pair: %w", err)
	}
	return conv, nil
}

// ListConversations lists an identity's conversations, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, role store.Role) ([]*store.Conversation, error) {
	column := "customer_id"
	if role == store.RoleVendor {
		column = "vendor_id"
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE ` + column + ` = ?
		ORDER BY COALESCE(last_message_at, created_at) DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*store.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// ==== MessageStore implementation ====

func unreadColumn(role store.Role) string {
	if role == store.RoleCustomer {
		return "customer_unread"
	}
	return "vendor_unread"
}

// InsertMessage persists a message and updates conversation bookkeeping in one
// transaction: the counterpart's unread counter and last_message_at must never
// be observed out of sync with the new row.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO messages (id, conversation_id, sender_id, sender_role, content,
			content_hash, is_compressed, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.SenderRole),
		msg.Content, msg.ContentHash, msg.IsCompressed, msg.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}

	counter := unreadColumn(msg.SenderRole.Counterpart())
	update := `
		UPDATE conversations
		SET ` + counter + ` = ` + counter + ` + 1, last_message_at = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, update, msg.CreatedAt, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("bump unread counter: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message insert: %w", err)
	}
	return nil
}

const messageColumns = `
	id, conversation_id, sender_id, sender_role, content, content_hash,
	is_compressed, is_read, read_at, created_at
`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var msg store.Message
	var role string
	var readAt sql.NullTime
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&role,
		&msg.Content,
		&msg.ContentHash,
		&msg.IsCompressed,
		&msg.IsRead,
		&readAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.SenderRole = store.Role(role)
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	return &msg, nil
}

// GetMessage retrieves a message by id within a conversation.
func (s *SQLiteStore) GetMessage(ctx context.Context, conversationID, messageID string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ? AND conversation_id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages retrieves a conversation's messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, beforeID *string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if beforeID != nil {
		query += ` AND created_at < (SELECT created_at FROM messages WHERE id = ?)`
		args = append(args, *beforeID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order; the query walks newest-first for the limit.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkMessageRead flips one message to read. Reading your own message or an
// already-read one is a benign no-op, not an error.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, conversationID, messageID string, reader store.Role) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var senderRole string
	var isRead bool
	query := `SELECT sender_role, is_read FROM messages WHERE id = ? AND conversation_id = ?`
	if err := tx.QueryRowContext(ctx, query, messageID, conversationID).Scan(&senderRole, &isRead); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("query message read state: %w", err)
	}

	if store.Role(senderRole) == reader || isRead {
		return false, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`,
		now, messageID); err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}

	counter := unreadColumn(reader)
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET `+counter+` = MAX(`+counter+` - 1, 0), updated_at = ? WHERE id = ?`,
		now, conversationID); err != nil {
		return false, fmt.Errorf("decrement unread counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit mark read: %w", err)
	}
	return true, nil
}

// MarkConversationRead flips every unread counterpart-authored message.
// Zero matching rows is a silent success.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID string, reader store.Role) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ?
		 WHERE conversation_id = ? AND sender_role = ? AND is_read = 0`,
		now, conversationID, string(reader.Counterpart()))
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	counter := unreadColumn(reader)
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET `+counter+` = MAX(`+counter+` - ?, 0), updated_at = ? WHERE id = ?`,
		n, now, conversationID); err != nil {
		return 0, fmt.Errorf("reset unread counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mark conversation read: %w", err)
	}
	return int(n), nil
}

// TotalUnread sums the identity's unread counters across conversations.
func (s *SQLiteStore) TotalUnread(ctx context.Context, userID string, role store.Role) (int, error) {
	column := "customer_id"
	if role == store.RoleVendor {
		column = "vendor_id"
	}
	query := `SELECT COALESCE(SUM(` + unreadColumn(role) + `), 0) FROM conversations WHERE ` + column + ` = ?`

	var total int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("query total unread: %w", err)
	}
	return total, nil
}

// ==== ArchiveSource implementation ====

// ListMessagesOlderThan returns up to limit read messages created before
// cutoff. Unread rows are never eligible: archiving one would strand the
// counterpart's unread counter with no row left to transition.
func (s *SQLiteStore) ListMessagesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE created_at < ? AND is_read = 1 ORDER BY created_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query aged messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// DeleteMessages removes message rows by id without adjusting unread counters:
// archiving must not change what either participant has or hasn't read.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ReinsertMessages puts restored rows back verbatim, without counter side effects.
func (s *SQLiteStore) ReinsertMessages(ctx context.Context, msgs []*store.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT OR IGNORE INTO messages (id, conversation_id, sender_id, sender_role,
			content, content_hash, is_compressed, is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, msg := range msgs {
		var readAt any
		if msg.ReadAt != nil {
			readAt = *msg.ReadAt
		}
		if _, err := tx.ExecContext(ctx, insert,
			msg.ID, msg.ConversationID, msg.SenderID, string(msg.SenderRole),
			msg.Content, msg.ContentHash, msg.IsCompressed, msg.IsRead, readAt, msg.CreatedAt); err != nil {
			return fmt.Errorf("reinsert message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reinsert: %w", err)
	}
	return nil
}

// CountMessages returns the number of hot message rows.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// MessageBytes returns the approximate stored size of hot message content.
func (s *SQLiteStore) MessageBytes(ctx context.Context) (int64, error) {
	var size int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(content)), 0) FROM messages`).Scan(&size); err != nil {
		return 0, fmt.Errorf("sum message bytes: %w", err)
	}
	return size, nil
}
