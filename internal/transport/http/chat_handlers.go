package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/chat"
)

// ChatHandlers provides the synchronous REST surface over the message
// pipeline. Same authorization and pipeline as the WebSocket path.
type ChatHandlers struct {
	svc *chat.Service
	log *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(svc *chat.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{svc: svc, log: logger}
}

// CreateConversationRequest represents the create/get conversation request body.
type CreateConversationRequest struct {
	VendorID string `json:"vendor_id" binding:"required"`
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// RestoreRequest represents the archive restore request body.
type RestoreRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

// ArchiveRequest represents the archive run request body.
type ArchiveRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// ListConversations handles GET /api/conversations.
func (h *ChatHandlers) ListConversations(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	convs, err := h.svc.ListConversations(c.Request.Context(), ident)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, convs)
}

// CreateConversation handles POST /api/conversations. Customer-only; returns
// the existing conversation when the pair already has one.
func (h *ChatHandlers) CreateConversation(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create conversation request")
		respondError(c, &chat.Error{Code: chat.CodeValidation, Message: "invalid request body"})
		return
	}

	conv, err := h.svc.GetOrCreateConversation(c.Request.Context(), ident, req.VendorID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, conv)
}

// ListMessages handles GET /api/conversations/:id/messages.
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	var beforeID *string
	if raw := c.Query("before"); raw != "" {
		beforeID = &raw
	}

	msgs, err := h.svc.ListMessages(c.Request.Context(), ident, c.Param("id"), limit, beforeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, msgs)
}

// SendMessage handles POST /api/conversations/:id/messages.
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		respondError(c, &chat.Error{Code: chat.CodeValidation, Message: "invalid request body"})
		return
	}

	view, err := h.svc.SendMessage(c.Request.Context(), ident, c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, view)
}

// MarkMessageRead handles PUT /api/conversations/:id/messages/:msgID/read.
func (h *ChatHandlers) MarkMessageRead(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	changed, err := h.svc.MarkMessageRead(c.Request.Context(), ident, c.Param("id"), c.Param("msgID"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"read": changed})
}

// MarkConversationRead handles PUT /api/conversations/:id/read.
func (h *ChatHandlers) MarkConversationRead(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	n, err := h.svc.MarkConversationRead(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"marked_read": n})
}

// UnreadCount handles GET /api/unread-count.
func (h *ChatHandlers) UnreadCount(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	total, err := h.svc.UnreadCount(c.Request.Context(), ident)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"unread_count": total})
}
