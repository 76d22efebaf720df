package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by store implementations.
var (
	// ErrNotFound is returned when a conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects an insert.
	ErrConflict = errors.New("already exists")
)

// Role tags an identity as one side of the marketplace.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
)

// Valid reports whether the role is one the chat subsystem knows.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleVendor
}

// Counterpart returns the opposite side of a conversation.
func (r Role) Counterpart() Role {
	if r == RoleCustomer {
		return RoleVendor
	}
	return RoleCustomer
}

// Conversation is the unique channel between one customer and one vendor.
type Conversation struct {
	ID             string
	CustomerID     string
	VendorID       string
	CustomerUnread int
	VendorUnread   int
	LastMessageAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ParticipantID returns the participant id for the given role.
func (c *Conversation) ParticipantID(role Role) string {
	if role == RoleCustomer {
		return c.CustomerID
	}
	return c.VendorID
}

// UnreadFor returns the unread counter belonging to the given role.
func (c *Conversation) UnreadFor(role Role) int {
	if role == RoleCustomer {
		return c.CustomerUnread
	}
	return c.VendorUnread
}

// Message is a persisted chat message. Content is ciphertext at rest;
// plaintext exists only request-scoped after decryption.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderRole     Role
	Content        string
	ContentHash    string
	IsCompressed   bool
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// ArchivedMessage is a message row in cold storage.
type ArchivedMessage struct {
	Message
	ArchivedAt time.Time
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation inserts a new conversation. Returns ErrConflict when a
	// conversation for the same (customer, vendor) pair already exists.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation retrieves a conversation by id. Returns ErrNotFound if absent.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// GetConversationByPair retrieves the conversation for a (customer, vendor)
	// pair. Returns ErrNotFound if absent.
	GetConversationByPair(ctx context.Context, customerID, vendorID string) (*Conversation, error)

	// ListConversations lists the conversations the given identity participates
	// in, most recently active first.
	ListConversations(ctx context.Context, userID string, role Role) ([]*Conversation, error)
}

// MessageStore handles message persistence and read-state bookkeeping.
type MessageStore interface {
	// InsertMessage persists a message and, in the same transaction, advances the
	// conversation's last_message_at/updated_at and increments the counterpart's
	// unread counter.
	InsertMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by id within a conversation.
	GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error)

	// ListMessages retrieves messages of a conversation in chronological order.
	// A non-nil beforeID returns only messages created before that message.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID *string) ([]*Message, error)

	// MarkMessageRead flips a single message to read and decrements the reader's
	// unread counter, floored at zero. Marking an already-read message or one the
	// reader authored is a no-op; the bool reports whether a transition happened.
	MarkMessageRead(ctx context.Context, conversationID, messageID string, reader Role) (bool, error)

	// MarkConversationRead flips every unread message authored by the reader's
	// counterpart and zeroes the reader's unread counter. Returns the number of
	// messages transitioned; zero matches is a silent success.
	MarkConversationRead(ctx context.Context, conversationID string, reader Role) (int, error)

	// TotalUnread sums the identity's unread counters across its conversations.
	TotalUnread(ctx context.Context, userID string, role Role) (int, error)
}

// ArchiveSource exposes the hot-store operations the archiver needs.
type ArchiveSource interface {
	// ListMessagesOlderThan returns up to limit read messages created before
	// cutoff. Unread messages stay hot so read transitions can still reach them
	// and unread counters stay exact.
	ListMessagesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error)

	// DeleteMessages removes message rows by id without touching unread counters.
	// Returns the number of rows deleted.
	DeleteMessages(ctx context.Context, ids []string) (int, error)

	// ReinsertMessages puts restored rows back without counter side effects.
	ReinsertMessages(ctx context.Context, msgs []*Message) error

	// CountMessages returns the number of hot message rows.
	CountMessages(ctx context.Context) (int, error)

	// MessageBytes returns the approximate stored size of hot message content.
	MessageBytes(ctx context.Context) (int64, error)
}

// Store aggregates all hot-store interfaces.
type Store interface {
	ConversationStore
	MessageStore
	ArchiveSource

	// Close closes the underlying database connection.
	Close() error
}
