package http

import (
	"context"
	"encoding/json"

	"github.com/marketchat/marketchat-server/internal/chat"
	"github.com/marketchat/marketchat-server/internal/core"
	"github.com/marketchat/marketchat-server/internal/proto"
)

// handleInbound dispatches one client request into the pipeline. The returned
// outbound, if any, is the direct reply; room and user events flow through the
// client's event channel instead.
func (h *WSHandler) handleInbound(ctx context.Context, client *core.Client, inbound proto.Inbound) *proto.Outbound {
	ident := chat.Identity{UserID: client.UserID, Role: client.Role}

	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return protoError(&chat.Error{Code: chat.CodeValidation, Message: "malformed join payload"})
		}
		if err := h.svc.Authorize(ctx, ident, join.ConversationID); err != nil {
			return protoError(chat.AsError(err))
		}
		h.registry.JoinConversation(client, join.ConversationID)
		return &proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: core.EventJoinedConversation,
			Data:  proto.RoomData{ConversationID: join.ConversationID},
		}

	case proto.InboundTypeLeave:
		var leave proto.JoinData
		if err := json.Unmarshal(inbound.Data, &leave); err != nil {
			return protoError(&chat.Error{Code: chat.CodeValidation, Message: "malformed leave payload"})
		}
		h.registry.LeaveConversation(client, leave.ConversationID)
		return &proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: core.EventLeftConversation,
			Data:  proto.RoomData{ConversationID: leave.ConversationID},
		}

	case proto.InboundTypeSend:
		var send proto.SendData
		if err := json.Unmarshal(inbound.Data, &send); err != nil {
			return protoError(&chat.Error{Code: chat.CodeValidation, Message: "malformed message payload"})
		}
		if _, err := h.svc.SendMessage(ctx, ident, send.ConversationID, send.Content); err != nil {
			return protoError(chat.AsError(err))
		}
		// Delivery happens via the conversation room fan-out.
		return nil

	case proto.InboundTypeMarkRead:
		var mark proto.MarkReadData
		if err := json.Unmarshal(inbound.Data, &mark); err != nil {
			return protoError(&chat.Error{Code: chat.CodeValidation, Message: "malformed mark_read payload"})
		}
		if _, err := h.svc.MarkConversationRead(ctx, ident, mark.ConversationID); err != nil {
			return protoError(chat.AsError(err))
		}
		return nil

	default:
		return protoError(&chat.Error{Code: chat.CodeValidation, Message: "unknown message type"})
	}
}

func outboundFromEvent(event core.Event) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: event.Name,
		Data:  event.Payload,
	}
}

func protoError(ce *chat.Error) *proto.Outbound {
	return &proto.Outbound{
		Type: proto.OutboundTypeError,
		Error: &proto.Error{
			Code:       ce.Code,
			Msg:        ce.Message,
			RetryAfter: ce.RetryAfter,
		},
	}
}
