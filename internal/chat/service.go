// Package chat implements the transport-agnostic message pipeline: validation,
// access control, rate limiting, encryption, persistence, and fan-out. Both
// the WebSocket channel and the REST handlers are thin adapters over this
// service, so the business rules hold identically on either path.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/codec"
	"github.com/marketchat/marketchat-server/internal/core"
	"github.com/marketchat/marketchat-server/internal/store"
)

// placeholderContent is rendered when a stored message cannot be decrypted.
const placeholderContent = "[content unavailable]"

// Identity is the authenticated caller: an opaque user id plus a role tag,
// issued by the marketplace auth collaborator.
type Identity struct {
	UserID string
	Role   store.Role
}

// Broadcaster fans events out to live connections. Implemented by
// core.Registry; a no-op implementation serves tests.
type Broadcaster interface {
	FanOutConversation(conversationID string, event core.Event)
	NotifyUser(userID string, event core.Event)
}

// Notifier delivers out-of-band notifications (email). Fire-and-forget:
// implementations must never block or fail the pipeline.
type Notifier interface {
	MessageReceived(recipientID, conversationID string)
}

// MessageView is the decrypted, request-scoped representation of a message.
type MessageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderRole     string     `json:"sender_role"`
	Content        string     `json:"content"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DecryptFailed  bool       `json:"decrypt_failed,omitempty"`
}

// ConversationView is a conversation as presented to one participant.
type ConversationView struct {
	ID            string     `json:"id"`
	CustomerID    string     `json:"customer_id"`
	VendorID      string     `json:"vendor_id"`
	UnreadCount   int        `json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ConversationSignal is the lightweight payload for conversation_updated events.
type ConversationSignal struct {
	ConversationID string `json:"conversation_id"`
}

// ReadReceipt is the payload for messages_read events.
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	Count          int    `json:"count"`
}

// Service is the message pipeline.
type Service struct {
	store    store.Store
	codec    *codec.Codec
	limiter  *Limiter
	events   Broadcaster
	notifier Notifier
	log      *zerolog.Logger

	storeTimeout time.Duration
	codecTimeout time.Duration
}

// NewService wires the pipeline. notifier may be nil.
func NewService(st store.Store, cd *codec.Codec, limiter *Limiter, events Broadcaster, notifier Notifier, logger *zerolog.Logger, storeTimeout, codecTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if codecTimeout <= 0 {
		codecTimeout = 5 * time.Second
	}
	return &Service{
		store:        st,
		codec:        cd,
		limiter:      limiter,
		events:       events,
		notifier:     notifier,
		log:          logger,
		storeTimeout: storeTimeout,
		codecTimeout: codecTimeout,
	}
}

// Limiter exposes the rate limiter so the transport layer can discard a
// user's window when their last connection closes.
func (s *Service) Limiter() *Limiter {
	return s.limiter
}

// GetOrCreateConversation resolves the single conversation between a customer
// and a vendor, creating it lazily on first contact. Idempotent: a concurrent
// duplicate create re-reads and returns the winner instead of erroring.
func (s *Service) GetOrCreateConversation(ctx context.Context, ident Identity, vendorID string) (*ConversationView, error) {
	if ident.Role != store.RoleCustomer {
		return nil, accessDenied("only customers may start conversations")
	}
	if err := ValidateID("vendor id", vendorID); err != nil {
		return nil, err
	}
	if ident.UserID == vendorID {
		return nil, validationError("cannot start a conversation with yourself")
	}

	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.store.GetConversationByPair(opCtx, ident.UserID, vendorID)
	if err == nil {
		return conversationView(conv, ident.Role), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, s.storeError(err, "conversation")
	}

	now := time.Now().UTC()
	created := &store.Conversation{
		ID:         uuid.NewString(),
		CustomerID: ident.UserID,
		VendorID:   vendorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.store.CreateConversation(opCtx, created)
	if err == nil {
		return conversationView(created, ident.Role), nil
	}
	if errors.Is(err, store.ErrConflict) {
		// Lost the creation race; the winner's row is authoritative.
		conv, err = s.store.GetConversationByPair(opCtx, ident.UserID, vendorID)
		if err != nil {
			return nil, s.storeError(err, "conversation")
		}
		return conversationView(conv, ident.Role), nil
	}
	return nil, s.storeError(err, "conversation")
}

// ListConversations lists the caller's conversations, role-scoped.
func (s *Service) ListConversations(ctx context.Context, ident Identity) ([]*ConversationView, error) {
	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	convs, err := s.store.ListConversations(opCtx, ident.UserID, ident.Role)
	if err != nil {
		return nil, s.storeError(err, "conversations")
	}

	views := make([]*ConversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, conversationView(conv, ident.Role))
	}
	return views, nil
}

// ListMessages returns a conversation's messages in chronological order,
// decrypted independently: a message that cannot be decrypted renders as a
// placeholder with a failure flag instead of aborting the batch.
func (s *Service) ListMessages(ctx context.Context, ident Identity, conversationID string, limit int, beforeID *string) ([]*MessageView, error) {
	if err := ValidateID("conversation id", conversationID); err != nil {
		return nil, err
	}
	if beforeID != nil {
		if err := ValidateID("message id", *beforeID); err != nil {
			return nil, err
		}
	}

	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if _, err := s.resolveAuthorized(opCtx, ident, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(opCtx, conversationID, limit, beforeID)
	if err != nil {
		return nil, s.storeError(err, "messages")
	}

	views := make([]*MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, s.decryptView(msg))
	}
	return views, nil
}

// SendMessage walks the full pipeline for one outbound message:
// validate, authorize, rate-limit, sanitize, encode, persist, fan out.
func (s *Service) SendMessage(ctx context.Context, ident Identity, conversationID, content string) (*MessageView, error) {
	if err := ValidateID("conversation id", conversationID); err != nil {
		return nil, err
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.resolveAuthorized(opCtx, ident, conversationID)
	if err != nil {
		return nil, err
	}

	if ok, retryAfter := s.limiter.Allow(ident.UserID); !ok {
		return nil, rateLimited(retryAfter)
	}

	sanitized := Sanitize(content)
	if sanitized == "" {
		return nil, validationError("message must not be empty")
	}

	enc, err := s.encode(ctx, sanitized)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       ident.UserID,
		SenderRole:     ident.Role,
		Content:        enc.Ciphertext,
		ContentHash:    enc.Digest,
		IsCompressed:   enc.Compressed,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertMessage(opCtx, msg); err != nil {
		return nil, s.storeError(err, "conversation")
	}

	// Broadcast what was stored, never the pre-persist plaintext.
	view := s.decryptView(msg)
	s.broadcastNewMessage(conv, view)

	return view, nil
}

// MarkMessageRead transitions one message to read. A sender marking their own
// message, or re-marking a read one, is a silent no-op.
func (s *Service) MarkMessageRead(ctx context.Context, ident Identity, conversationID, messageID string) (bool, error) {
	if err := ValidateID("conversation id", conversationID); err != nil {
		return false, err
	}
	if err := ValidateID("message id", messageID); err != nil {
		return false, err
	}

	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.resolveAuthorized(opCtx, ident, conversationID)
	if err != nil {
		return false, err
	}

	changed, err := s.store.MarkMessageRead(opCtx, conversationID, messageID, ident.Role)
	if err != nil {
		return false, s.storeError(err, "message")
	}
	if changed {
		s.broadcastRead(conv, ident, 1)
	}
	return changed, nil
}

// MarkConversationRead bulk-transitions every unread counterpart-authored
// message. Zero matching messages is a silent success.
func (s *Service) MarkConversationRead(ctx context.Context, ident Identity, conversationID string) (int, error) {
	if err := ValidateID("conversation id", conversationID); err != nil {
		return 0, err
	}

	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.resolveAuthorized(opCtx, ident, conversationID)
	if err != nil {
		return 0, err
	}

	n, err := s.store.MarkConversationRead(opCtx, conversationID, ident.Role)
	if err != nil {
		return 0, s.storeError(err, "conversation")
	}
	if n > 0 {
		s.broadcastRead(conv, ident, n)
	}
	return n, nil
}

// UnreadCount sums the caller's unread counters across all conversations.
func (s *Service) UnreadCount(ctx context.Context, ident Identity) (int, error) {
	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	total, err := s.store.TotalUnread(opCtx, ident.UserID, ident.Role)
	if err != nil {
		return 0, s.storeError(err, "conversations")
	}
	return total, nil
}

// Authorize resolves a conversation and verifies the identity participates in
// it. Used by the WebSocket transport before joining a room.
func (s *Service) Authorize(ctx context.Context, ident Identity, conversationID string) error {
	if err := ValidateID("conversation id", conversationID); err != nil {
		return err
	}

	opCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	_, err := s.resolveAuthorized(opCtx, ident, conversationID)
	return err
}

// resolveAuthorized is the conversation access gate: a customer is authorized
// only for conversations where they are the customer, a vendor only where
// they are the vendor, and no other role ever.
func (s *Service) resolveAuthorized(ctx context.Context, ident Identity, conversationID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}

	authorized := false
	switch ident.Role {
	case store.RoleCustomer:
		authorized = conv.CustomerID == ident.UserID
	case store.RoleVendor:
		authorized = conv.VendorID == ident.UserID
	}
	if !authorized {
		return nil, accessDenied("not a participant in this conversation")
	}
	return conv, nil
}

// encode runs the codec under its own timeout, distinct from the overall
// request deadline.
func (s *Service) encode(ctx context.Context, plaintext string) (codec.Encrypted, error) {
	type result struct {
		enc codec.Encrypted
		err error
	}
	ch := make(chan result, 1)
	go func() {
		enc, err := s.codec.Encrypt(plaintext)
		ch <- result{enc: enc, err: err}
	}()

	timer := time.NewTimer(s.codecTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			s.log.Error().Err(r.err).Msg("encrypt message")
			return codec.Encrypted{}, encodingError("failed to encode message")
		}
		return r.enc, nil
	case <-timer.C:
		return codec.Encrypted{}, timeoutError("encoding timed out")
	case <-ctx.Done():
		return codec.Encrypted{}, timeoutError("request cancelled during encoding")
	}
}

func (s *Service) decryptView(msg *store.Message) *MessageView {
	view := &MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderRole:     string(msg.SenderRole),
		IsRead:         msg.IsRead,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt,
	}

	plain, err := s.codec.Decrypt(msg.Content)
	if err != nil {
		s.log.Warn().Str("message_id", msg.ID).Msg("message failed to decrypt, rendering placeholder")
		view.Content = placeholderContent
		view.DecryptFailed = true
		return view
	}
	view.Content = plain
	return view
}

func (s *Service) broadcastNewMessage(conv *store.Conversation, view *MessageView) {
	s.events.FanOutConversation(conv.ID, core.Event{
		Name:           core.EventNewMessage,
		ConversationID: conv.ID,
		Payload:        view,
	})

	signal := ConversationSignal{ConversationID: conv.ID}
	for _, userID := range []string{conv.CustomerID, conv.VendorID} {
		s.events.NotifyUser(userID, core.Event{
			Name:           core.EventConversationUpdated,
			ConversationID: conv.ID,
			Payload:        signal,
		})
	}

	if s.notifier != nil {
		recipient := conv.CustomerID
		if view.SenderID == conv.CustomerID {
			recipient = conv.VendorID
		}
		s.notifier.MessageReceived(recipient, conv.ID)
	}
}

func (s *Service) broadcastRead(conv *store.Conversation, reader Identity, count int) {
	s.events.FanOutConversation(conv.ID, core.Event{
		Name:           core.EventMessagesRead,
		ConversationID: conv.ID,
		Payload: ReadReceipt{
			ConversationID: conv.ID,
			ReaderID:       reader.UserID,
			Count:          count,
		},
	})
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeError maps store failures onto the chat error taxonomy. A deadline is
// a distinct, user-visible failure from a hard store error.
func (s *Service) storeError(err error, what string) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError("storage timed out")
	case errors.Is(err, store.ErrNotFound):
		return notFoundError(what + " not found")
	case errors.Is(err, store.ErrConflict):
		return &Error{Code: CodeConflict, Message: what + " already exists"}
	default:
		s.log.Error().Err(err).Msg("store failure")
		return internalError("storage failure")
	}
}

func conversationView(conv *store.Conversation, role store.Role) *ConversationView {
	return &ConversationView{
		ID:            conv.ID,
		CustomerID:    conv.CustomerID,
		VendorID:      conv.VendorID,
		UnreadCount:   conv.UnreadFor(role),
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
	}
}
