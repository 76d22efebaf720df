package core

import "github.com/marketchat/marketchat-server/internal/store"

// Client is one live connection as seen by the presence registry. A user may
// hold several clients at once (multiple devices).
type Client struct {
	ID     string
	UserID string
	Role   store.Role
	Events chan Event
}

// NewClient constructs a client with a buffered event channel.
func NewClient(id, userID string, role store.Role) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		Events: make(chan Event, 16),
	}
}
