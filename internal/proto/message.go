// Package proto defines the WebSocket wire envelopes exchanged with clients.
package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin     = "join_conversation"
	InboundTypeLeave    = "leave_conversation"
	InboundTypeSend     = "send_message"
	InboundTypeMarkRead = "mark_read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// JoinData requests to join or leave a conversation room.
type JoinData struct {
	ConversationID string `json:"conversation_id"`
}

// SendData is a chat message from the client.
type SendData struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// MarkReadData requests a bulk read transition for a conversation.
type MarkReadData struct {
	ConversationID string `json:"conversation_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code       string `json:"code"`
	Msg        string `json:"msg"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// RoomData confirms a join or leave.
type RoomData struct {
	ConversationID string `json:"conversation_id"`
}
