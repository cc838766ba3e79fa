package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSendMessage = "send_message"
	InboundTypeMarkAsRead  = "mark_as_read"
	InboundTypeJoin        = "join_conversation"
	InboundTypeTypingStart = "typing_start"
	InboundTypeTypingStop  = "typing_stop"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
}

// MarkAsReadData marks a single message or, with message_id omitted, the
// whole conversation as read.
type MarkAsReadData struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id,omitempty"`
}

// JoinData asks to participate in a conversation's live events.
type JoinData struct {
	ConversationID int64 `json:"conversation_id"`
}

// TypingData addresses a typing indicator to a conversation.
type TypingData struct {
	ConversationID int64 `json:"conversation_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventNewMessage delivers a persisted message to conversation members.
type EventNewMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderAvatar   string    `json:"sender_avatar,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventMessageRead notifies members that a user read messages. MessageID is
// zero when the whole conversation was marked read.
type EventMessageRead struct {
	ConversationID int64     `json:"conversation_id"`
	ReaderID       int64     `json:"reader_id"`
	MessageID      int64     `json:"message_id,omitempty"`
	ReadAt         time.Time `json:"read_at"`
}

// EventPresenceUpdate notifies peers about an online/offline transition.
type EventPresenceUpdate struct {
	UserID   int64     `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// EventUserTyping notifies members that a user started or stopped typing.
type EventUserTyping struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
