package http

import (
	"context"
	"encoding/json"

	"github.com/vovakirdan/socialwire-server/internal/core"
	"github.com/vovakirdan/socialwire-server/internal/proto"
)

// dispatch decodes an inbound frame and runs the matching hub operation.
// Domain rejections come back as a protocol error for the client; only
// decode failures terminate the connection.
func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, inbound proto.Inbound) (*proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "conversation_id is required"}, nil
		}
		_, err := h.hub.SendMessage(ctx, data.ConversationID, client.UserID, data.Content)
		return protoErrorFrom(err), nil

	case proto.InboundTypeMarkAsRead:
		var data proto.MarkAsReadData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "conversation_id is required"}, nil
		}
		err := h.hub.MarkAsRead(ctx, data.ConversationID, client.UserID, data.MessageID)
		return protoErrorFrom(err), nil

	case proto.InboundTypeJoin:
		var data proto.JoinData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "conversation_id is required"}, nil
		}
		err := h.hub.JoinConversation(ctx, data.ConversationID, client.UserID)
		return protoErrorFrom(err), nil

	case proto.InboundTypeTypingStart, proto.InboundTypeTypingStop:
		var data proto.TypingData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "conversation_id is required"}, nil
		}
		err := h.hub.Typing(ctx, data.ConversationID, client.UserID, inbound.Type == proto.InboundTypeTypingStart)
		return protoErrorFrom(err), nil

	default:
		return &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func protoErrorFrom(err error) *proto.Error {
	if err == nil {
		return nil
	}
	if ce, ok := core.AsCoreError(err); ok {
		return &proto.Error{Code: ce.Code, Msg: ce.Message}
	}
	return &proto.Error{Code: core.ErrCodeStoreError, Msg: "internal error"}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventNewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "new_message",
			Data: proto.EventNewMessage{
				ID:             event.Message.ID,
				ConversationID: event.Message.ConversationID,
				SenderID:       event.Message.SenderID,
				SenderName:     event.Message.SenderName,
				SenderAvatar:   event.Message.SenderAvatar,
				Content:        event.Message.Content,
				CreatedAt:      event.Message.CreatedAt,
			},
		}
	case core.EventMessageRead:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "message_read",
			Data: proto.EventMessageRead{
				ConversationID: event.Read.ConversationID,
				ReaderID:       event.Read.ReaderID,
				MessageID:      event.Read.MessageID,
				ReadAt:         event.Read.ReadAt,
			},
		}
	case core.EventPresenceUpdate:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "presence_update",
			Data: proto.EventPresenceUpdate{
				UserID:   event.Presence.UserID,
				IsOnline: event.Presence.IsOnline,
				LastSeen: event.Presence.LastSeen,
			},
		}
	case core.EventUserTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "user_typing",
			Data: proto.EventUserTyping{
				ConversationID: event.Typing.ConversationID,
				UserID:         event.Typing.UserID,
				IsTyping:       event.Typing.IsTyping,
			},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
