package core

// Event names emitted to connected clients.
const (
	// EventJoinedConversation confirms a successful room join.
	EventJoinedConversation = "joined_conversation"
	// EventLeftConversation confirms leaving a room.
	EventLeftConversation = "left_conversation"
	// EventNewMessage delivers a decrypted message to a conversation room.
	EventNewMessage = "new_message"
	// EventConversationUpdated is the lightweight per-user signal that a
	// conversation the user participates in changed.
	EventConversationUpdated = "conversation_updated"
	// EventMessagesRead notifies a conversation room of a read transition.
	EventMessagesRead = "messages_read"
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Name           string `json:"event"`
	ConversationID string `json:"conversation_id,omitempty"`
	Payload        any    `json:"data,omitempty"`
}
