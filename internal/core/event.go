package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventNewMessage notifies conversation members about a new message.
	EventNewMessage EventKind = iota
	// EventMessageRead notifies members that a user read messages.
	EventMessageRead
	// EventPresenceUpdate notifies peers about an online/offline transition.
	EventPresenceUpdate
	// EventUserTyping notifies members that a user started or stopped typing.
	EventUserTyping
	// EventError notifies a client about a domain error.
	EventError
)

// MessagePayload carries a delivered message plus sender display fields.
// Fixed at the broadcaster boundary; handlers never see raw store rows.
type MessagePayload struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	SenderName     string
	SenderAvatar   string
	Content        string
	CreatedAt      time.Time
}

// ReadPayload carries a read receipt. MessageID is zero when the whole
// conversation was marked read.
type ReadPayload struct {
	ConversationID int64
	ReaderID       int64
	MessageID      int64
	ReadAt         time.Time
}

// PresencePayload carries a peer's online/offline transition.
type PresencePayload struct {
	UserID   int64
	IsOnline bool
	LastSeen time.Time
}

// TypingPayload carries a typing indicator.
type TypingPayload struct {
	ConversationID int64
	UserID         int64
	IsTyping       bool
}

// Event is sent to clients to describe what happened in the system.
// Exactly one payload field is set, matching Kind.
type Event struct {
	Kind     EventKind
	Message  *MessagePayload
	Read     *ReadPayload
	Presence *PresencePayload
	Typing   *TypingPayload
	Error    *CoreError
}
