package core

import "sync"

// Registry tracks which users have which live connections and which
// conversation rooms each connection joined. It is process-local state with an
// explicit lifecycle: one instance per server, created at startup.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[*Client]struct{}),
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]map[string]struct{}),
	}
}

// Register adds a connection for the client's user.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[c.UserID] == nil {
		r.byUser[c.UserID] = make(map[*Client]struct{})
	}
	r.byUser[c.UserID][c] = struct{}{}
	r.joined[c] = make(map[string]struct{})
}

// Unregister removes the connection from every joined room and from its
// user's connection set. Reports whether it was the user's last connection,
// so the caller can discard per-session state such as rate-limit windows.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for convID := range r.joined[c] {
		if room, ok := r.rooms[convID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(r.rooms, convID)
			}
		}
	}
	delete(r.joined, c)

	conns, ok := r.byUser[c.UserID]
	if !ok {
		return false
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.byUser, c.UserID)
		return true
	}
	return false
}

// JoinConversation subscribes the connection to a conversation room. The
// caller must have passed the access gate first. Returns false if already joined.
func (r *Registry) JoinConversation(c *Client, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.joined[c]
	if !ok {
		return false
	}
	if _, exists := joined[conversationID]; exists {
		return false
	}
	joined[conversationID] = struct{}{}

	if r.rooms[conversationID] == nil {
		r.rooms[conversationID] = make(map[*Client]struct{})
	}
	r.rooms[conversationID][c] = struct{}{}
	return true
}

// LeaveConversation unsubscribes the connection from a room. Returns false if
// the connection had not joined it.
func (r *Registry) LeaveConversation(c *Client, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.joined[c]
	if !ok {
		return false
	}
	if _, exists := joined[conversationID]; !exists {
		return false
	}
	delete(joined, conversationID)

	if room, ok := r.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, conversationID)
		}
	}
	return true
}

// FanOutConversation sends an event to every connection in a conversation room.
func (r *Registry) FanOutConversation(conversationID string, event Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.rooms[conversationID] {
		send(c, event)
	}
}

// NotifyUser sends an event to every live connection of one user.
func (r *Registry) NotifyUser(userID string, event Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.byUser[userID] {
		send(c, event)
	}
}

// Connections returns the number of live connections for a user.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

func send(c *Client, event Event) {
	select {
	case c.Events <- event:
	default:
		// Drop if slow consumer.
	}
}
