package core

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vovakirdan/socialwire-server/internal/store"
)

// SendMessage validates, persists and fans out a chat message. The persisted
// message is returned to the caller synchronously; delivery to the other
// members is best-effort and asynchronous.
func (h *Hub) SendMessage(ctx context.Context, conversationID, senderID int64, content string) (*store.MessageWithSender, error) {
	// Membership is checked before content; non-members always get
	// not_a_member regardless of body.
	if err := h.requireMembership(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrInvalidContent("message content is empty")
	}
	if utf8.RuneCountInString(content) > h.maxMessageLen {
		return nil, ErrInvalidContent("message content exceeds length limit")
	}

	sender, err := h.store.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	msg, err := h.store.CreateMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	enriched := &store.MessageWithSender{
		Message:      *msg,
		SenderName:   sender.DisplayName,
		SenderAvatar: sender.AvatarURL,
	}

	h.fanOut(conversationID, 0, &Event{
		Kind: EventNewMessage,
		Message: &MessagePayload{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			SenderName:     sender.DisplayName,
			SenderAvatar:   sender.AvatarURL,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		},
	})

	return enriched, nil
}

// MarkAsRead records read markers for the user. With a message ID it marks
// exactly that message; with zero it marks the whole conversation and
// advances the member's last-read position. Other members receive a
// message_read event so senders can render read receipts.
func (h *Hub) MarkAsRead(ctx context.Context, conversationID, userID, messageID int64) error {
	if err := h.requireMembership(ctx, conversationID, userID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if messageID != 0 {
		msg, err := h.store.GetMessageByID(ctx, messageID)
		if err != nil {
			return wrapStoreErr(err)
		}
		if msg.ConversationID != conversationID {
			return ErrNotFound("message does not belong to this conversation")
		}
		if err := h.store.UpsertReadMarker(ctx, messageID, userID, now); err != nil {
			return wrapStoreErr(err)
		}
	} else {
		if _, err := h.store.MarkConversationRead(ctx, conversationID, userID, now); err != nil {
			return wrapStoreErr(err)
		}
	}

	h.fanOut(conversationID, userID, &Event{
		Kind: EventMessageRead,
		Read: &ReadPayload{
			ConversationID: conversationID,
			ReaderID:       userID,
			MessageID:      messageID,
			ReadAt:         now,
		},
	})

	return nil
}

// UnreadCount returns how many messages the user has not read in the
// conversation. A user's own messages never count as unread for them.
func (h *Hub) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	if err := h.requireMembership(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	count, err := h.store.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return count, nil
}

// Conversations lists the user's conversations ordered by recency, enriched
// with members, last message and unread counts.
func (h *Hub) Conversations(ctx context.Context, userID int64, page, limit int) ([]*store.ConversationSummary, int, error) {
	summaries, total, err := h.store.ListConversationsForUser(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}
	return summaries, total, nil
}

// Messages returns a chronological page of a conversation's messages.
func (h *Hub) Messages(ctx context.Context, conversationID, userID int64, page, limit int) ([]*store.MessageWithSender, int, error) {
	if err := h.requireMembership(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}

	messages, total, err := h.store.ListMessages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}
	return messages, total, nil
}

// SearchMessages finds messages across the user's conversations whose content
// case-insensitively contains the query.
func (h *Hub) SearchMessages(ctx context.Context, userID int64, query string, page, limit int) ([]*store.MessageWithSender, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, ErrBadRequest("search query is empty")
	}

	messages, total, err := h.store.SearchMessages(ctx, userID, query, page, limit)
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}
	return messages, total, nil
}

// CreateDirectConversation returns the direct conversation between the two
// members, creating it if absent. Idempotent per unordered pair. The creator
// must be one of the members.
func (h *Hub) CreateDirectConversation(ctx context.Context, creatorID int64, memberIDs []int64) (*store.Conversation, bool, error) {
	if len(memberIDs) != 2 {
		return nil, false, ErrBadRequest("direct conversation requires exactly 2 members")
	}
	if memberIDs[0] == memberIDs[1] {
		return nil, false, ErrBadRequest("members must be distinct")
	}
	if creatorID != memberIDs[0] && creatorID != memberIDs[1] {
		return nil, false, ErrNotAMember()
	}

	for _, id := range memberIDs {
		if _, err := h.store.GetUserByID(ctx, id); err != nil {
			return nil, false, wrapStoreErr(err)
		}
	}

	conv, created, err := h.store.FindOrCreateDirectConversation(ctx, memberIDs[0], memberIDs[1])
	if err != nil {
		return nil, false, wrapStoreErr(err)
	}
	return conv, created, nil
}

// JoinConversation validates that the user belongs to the conversation.
// Membership is resolved from the store at fan-out time, so a successful
// join needs no registry state.
func (h *Hub) JoinConversation(ctx context.Context, conversationID, userID int64) error {
	return h.requireMembership(ctx, conversationID, userID)
}

// Typing fans a typing indicator out to the conversation's other members.
// Indicators are ephemeral and never persisted.
func (h *Hub) Typing(ctx context.Context, conversationID, userID int64, isTyping bool) error {
	if err := h.requireMembership(ctx, conversationID, userID); err != nil {
		return err
	}

	h.fanOut(conversationID, userID, &Event{
		Kind: EventUserTyping,
		Typing: &TypingPayload{
			ConversationID: conversationID,
			UserID:         userID,
			IsTyping:       isTyping,
		},
	})

	return nil
}

func (h *Hub) requireMembership(ctx context.Context, conversationID, userID int64) error {
	ok, err := h.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if !ok {
		return ErrNotAMember()
	}
	return nil
}
