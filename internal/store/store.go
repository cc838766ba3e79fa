package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system. Presence fields are mutated only by
// the presence tracker, never by client requests.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	AvatarURL   string
	IsOnline    bool
	LastSeen    time.Time
	CreatedAt   time.Time
}

// ConversationType defines different types of conversations.
// Only direct is supported; the other values are reserved.
type ConversationType string

const (
	ConversationTypeDirect ConversationType = "direct"
	ConversationTypeGroup  ConversationType = "group"
)

// Conversation is a durable thread between a fixed set of members.
type Conversation struct {
	ID        int64
	Type      ConversationType
	DirectKey *string // for direct conversations: "dm:{minUserId}:{maxUserId}"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member binds a user to a conversation and carries their read position.
type Member struct {
	ConversationID int64
	UserID         int64
	LastReadAt     *time.Time
	JoinedAt       time.Time
}

// Message represents a persisted chat message. Immutable once created.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Content        string
	CreatedAt      time.Time
}

// MessageWithSender is a message enriched with sender display fields.
type MessageWithSender struct {
	Message
	SenderName   string
	SenderAvatar string
}

// MemberInfo is a member projection used in conversation listings.
type MemberInfo struct {
	UserID      int64
	Username    string
	DisplayName string
	AvatarURL   string
	IsOnline    bool
	LastSeen    time.Time
	LastReadAt  *time.Time
}

// ConversationSummary is a conversation enriched for list views.
type ConversationSummary struct {
	Conversation
	Members     []MemberInfo
	LastMessage *MessageWithSender
	UnreadCount int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user record.
	CreateUser(ctx context.Context, username, displayName, avatarURL string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// UpdateUserPresence persists the coarse presence summary for a user.
	UpdateUserPresence(ctx context.Context, userID int64, isOnline bool, lastSeen time.Time) error

	// SearchUsers searches for users by username substring.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)
}

// ConversationStore handles conversation and membership persistence.
type ConversationStore interface {
	// FindOrCreateDirectConversation returns the direct conversation for the
	// unordered user pair, creating it (with both memberships) if absent.
	FindOrCreateDirectConversation(ctx context.Context, user1ID, user2ID int64) (*Conversation, bool, error)

	// GetConversationByID retrieves a conversation by ID.
	GetConversationByID(ctx context.Context, id int64) (*Conversation, error)

	// IsMember checks if user is a member of the conversation.
	IsMember(ctx context.Context, conversationID, userID int64) (bool, error)

	// ListMemberIDs lists all member user IDs of a conversation.
	ListMemberIDs(ctx context.Context, conversationID int64) ([]int64, error)

	// ListPeerIDs lists the distinct other users sharing at least one
	// conversation with the given user.
	ListPeerIDs(ctx context.Context, userID int64) ([]int64, error)

	// ListConversationsForUser lists the user's conversations ordered by
	// recency, enriched with members, last message and unread count.
	// Returns the page and the total number of conversations.
	ListConversationsForUser(ctx context.Context, userID int64, page, limit int) ([]*ConversationSummary, int, error)
}

// MessageStore handles message and read-marker persistence.
type MessageStore interface {
	// CreateMessage persists a message and bumps the parent conversation's
	// updated_at in the same transaction.
	CreateMessage(ctx context.Context, conversationID, senderID int64, content string) (*Message, error)

	// GetMessageByID retrieves a message by ID.
	GetMessageByID(ctx context.Context, id int64) (*Message, error)

	// ListMessages returns a chronological page of a conversation's messages
	// with sender display fields, plus the total message count.
	ListMessages(ctx context.Context, conversationID int64, page, limit int) ([]*MessageWithSender, int, error)

	// CountMessages counts all messages in a conversation.
	CountMessages(ctx context.Context, conversationID int64) (int, error)

	// CountReadByUser counts the user's read markers in a conversation.
	CountReadByUser(ctx context.Context, conversationID, userID int64) (int, error)

	// UnreadCount counts messages authored by others that the user has no
	// read marker for.
	UnreadCount(ctx context.Context, conversationID, userID int64) (int, error)

	// UpsertReadMarker records that the user read the message. Idempotent:
	// repeated marking updates the timestamp instead of duplicating.
	UpsertReadMarker(ctx context.Context, messageID, userID int64, readAt time.Time) error

	// MarkConversationRead marks every message in the conversation read for
	// the user and advances the member's last_read_at. Returns how many
	// messages were newly marked.
	MarkConversationRead(ctx context.Context, conversationID, userID int64, readAt time.Time) (int, error)

	// SearchMessages finds messages across the user's conversations whose
	// content case-insensitively contains the query, newest first.
	SearchMessages(ctx context.Context, userID int64, query string, page, limit int) ([]*MessageWithSender, int, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
