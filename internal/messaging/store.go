// Package messaging maintains the client-side view of conversations and
// messages: server pages and push events merge into one ordered,
// deduplicated store, and sends are optimistic with reconciliation
// against the server confirmation or its push echo.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/internal/transport"
	"dmp-portal-client/pkg/constants"
	apperrors "dmp-portal-client/pkg/errors"
	"dmp-portal-client/pkg/logger"
	"dmp-portal-client/pkg/metrics"
)

// PushBus is the slice of the connection manager the store needs.
type PushBus interface {
	Publish(event transport.Event, payload interface{})
	Subscribe(event transport.Event, h transport.Handler) func()
}

// IdentityFunc returns the identity of the live connection, or nil.
type IdentityFunc func() *domain.Identity

// Store is the conversation and message cache.
type Store struct {
	api      transport.Requester
	bus      PushBus
	identity IdentityFunc
	now      func() time.Time

	mu            sync.Mutex
	joined        map[int64]bool
	byConv        map[int64][]domain.Message
	conversations []domain.Conversation
	cancels       []func()
}

// NewStore creates a message store over the request channel and push bus.
func NewStore(api transport.Requester, bus PushBus, identity IdentityFunc) *Store {
	return &Store{
		api:      api,
		bus:      bus,
		identity: identity,
		now:      time.Now,
		joined:   make(map[int64]bool),
		byConv:   make(map[int64][]domain.Message),
	}
}

// Start subscribes the store to incoming message events.
func (s *Store) Start() {
	s.cancels = append(s.cancels,
		s.bus.Subscribe(transport.EventNewMessage, s.onNewMessage),
		s.bus.Subscribe(transport.EventMessageSent, s.onMessageSent),
	)
}

// Close detaches the store from the push bus.
func (s *Store) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

// ListConversations fetches the caller's conversations and refreshes the
// local cache.
func (s *Store) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	if err := s.api.Do(ctx, http.MethodGet, "/api/messaging/conversations", nil, &conversations); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conversations = conversations
	s.mu.Unlock()

	out := make([]domain.Conversation, len(conversations))
	copy(out, conversations)
	return out, nil
}

// UnreadConversations returns the cached conversations carrying unread
// messages. Purely local; call ListConversations to refresh.
func (s *Store) UnreadConversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unread []domain.Conversation
	for _, c := range s.conversations {
		if c.UnreadCount > 0 {
			unread = append(unread, c)
		}
	}
	return unread
}

// CreateConversation creates a conversation between the two participants
// and joins its push room. The server-assigned numeric ID identifies the
// conversation from then on.
func (s *Store) CreateConversation(ctx context.Context, create domain.ConversationCreate) (*domain.Conversation, error) {
	create.Kind = normalizeKind(create.Kind)
	if err := validateCreate(create); err != nil {
		return nil, err
	}

	var conversation domain.Conversation
	if err := s.api.Do(ctx, http.MethodPost, "/api/messaging/conversations", create, &conversation); err != nil {
		return nil, err
	}

	logger.Info("conversation created",
		zap.Int64("conversation_id", conversation.ID),
		zap.String("kind", conversation.Kind))

	s.mu.Lock()
	s.conversations = append(s.conversations, conversation)
	s.mu.Unlock()

	s.Join(conversation.ID)
	return &conversation, nil
}

// normalizeKind folds the hyphenated UI spelling into the wire value.
func normalizeKind(kind string) string {
	return strings.ReplaceAll(kind, "-", "_")
}

func validateCreate(create domain.ConversationCreate) error {
	switch create.Kind {
	case domain.ConversationPatientProfessional, domain.ConversationPrivate, domain.ConversationGroup:
	default:
		return apperrors.InvalidInputError(fmt.Sprintf("unknown conversation kind %q", create.Kind))
	}
	if create.ParticipantA <= 0 || create.ParticipantB <= 0 {
		return apperrors.InvalidInputError("both participant ids are required")
	}
	return nil
}

// Join subscribes the caller to a conversation's push room. Messages
// pushed for conversations that were never joined are dropped.
func (s *Store) Join(conversationID int64) {
	s.mu.Lock()
	s.joined[conversationID] = true
	s.mu.Unlock()

	s.bus.Publish(transport.EventJoinConversation, map[string]int64{
		"conversation_id": conversationID,
	})
}

// Leave unsubscribes from a conversation's push room. Cached messages are
// kept.
func (s *Store) Leave(conversationID int64) {
	s.mu.Lock()
	delete(s.joined, conversationID)
	s.mu.Unlock()

	s.bus.Publish(transport.EventLeaveConversation, map[string]int64{
		"conversation_id": conversationID,
	})
}

// Messages fetches one page of a conversation's history and returns the
// merged local view, ordered by send time. page starts at 1.
func (s *Store) Messages(ctx context.Context, conversationID int64, page, pageSize int) ([]domain.Message, error) {
	if page < 1 {
		return nil, apperrors.InvalidInputError("page starts at 1")
	}
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	if pageSize > constants.MaxPageSize {
		pageSize = constants.MaxPageSize
	}

	path := fmt.Sprintf("/api/messaging/conversations/%d/messages?limit=%d&offset=%d",
		conversationID, pageSize, (page-1)*pageSize)
	var fetched []domain.Message
	if err := s.api.Do(ctx, http.MethodGet, path, nil, &fetched); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range fetched {
		msg.ConversationID = conversationID
		msg.DeliveryState = domain.DeliveryConfirmed
		s.mergeLocked(msg, "page")
	}
	return s.snapshotLocked(conversationID), nil
}

// Cached returns the local ordered view of a conversation without
// touching the network.
func (s *Store) Cached(conversationID int64) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(conversationID)
}

// SendMessage sends optimistically: the message is visible locally as
// pending right away, then reconciled with the server-assigned identity
// from the response. The push echo of the same message reconciles into
// the same entry, never a duplicate.
func (s *Store) SendMessage(ctx context.Context, conversationID int64, create domain.MessageCreate) (*domain.Message, error) {
	if create.Kind == "" {
		create.Kind = domain.MessageText
	}
	if err := validateMessage(create); err != nil {
		metrics.MessagesSentTotal.WithLabelValues(create.Kind, "rejected").Inc()
		return nil, err
	}

	identity := s.identity()
	if identity == nil {
		return nil, apperrors.NotAuthenticatedError()
	}

	pending := domain.Message{
		LocalID:        uuid.New(),
		ConversationID: conversationID,
		SenderID:       identity.ID,
		SenderRole:     identity.Role,
		Content:        create.Content,
		Kind:           create.Kind,
		Metadata:       create.Metadata,
		SentAt:         s.now(),
		DeliveryState:  domain.DeliveryPending,
	}
	s.mu.Lock()
	s.byConv[conversationID] = append(s.byConv[conversationID], pending)
	s.mu.Unlock()

	path := fmt.Sprintf("/api/messaging/conversations/%d/messages", conversationID)
	var confirmed domain.Message
	if err := s.api.Do(ctx, http.MethodPost, path, create, &confirmed); err != nil {
		metrics.MessagesSentTotal.WithLabelValues(create.Kind, "error").Inc()
		return nil, err
	}
	confirmed.ConversationID = conversationID
	confirmed.DeliveryState = domain.DeliveryConfirmed

	s.mu.Lock()
	s.mergeLocked(confirmed, "response")
	s.mu.Unlock()

	metrics.MessagesSentTotal.WithLabelValues(create.Kind, "success").Inc()
	return &confirmed, nil
}

func validateMessage(create domain.MessageCreate) error {
	if strings.TrimSpace(create.Content) == "" {
		return apperrors.InvalidInputError("message content is empty")
	}
	if len(create.Content) > constants.MaxMessageLength {
		return apperrors.InvalidInputError("message content too long")
	}
	switch create.Kind {
	case domain.MessageText, domain.MessageImage, domain.MessageFile, domain.MessageAudio:
		return nil
	}
	return apperrors.InvalidInputError(fmt.Sprintf("unknown message kind %q", create.Kind))
}

// MarkMessageRead flags a message as read on the server and in the cache.
func (s *Store) MarkMessageRead(ctx context.Context, messageID int64) error {
	path := fmt.Sprintf("/api/messaging/messages/%d/read", messageID)
	if err := s.api.Do(ctx, http.MethodPatch, path, nil, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for convID, msgs := range s.byConv {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].Metadata == nil {
				msgs[i].Metadata = map[string]interface{}{}
			}
			msgs[i].Metadata["read"] = true
			for j := range s.conversations {
				if s.conversations[j].ID == convID && s.conversations[j].UnreadCount > 0 {
					s.conversations[j].UnreadCount--
				}
			}
			return nil
		}
	}
	return nil
}

// onNewMessage handles pushed messages from other participants. Pushes
// for conversations never joined are dropped, not cached.
func (s *Store) onNewMessage(payload json.RawMessage) {
	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("malformed new_message payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined[msg.ConversationID] {
		metrics.PushMessagesDroppedTotal.Inc()
		logger.Debug("push message dropped, conversation not joined",
			zap.Int64("conversation_id", msg.ConversationID))
		return
	}
	msg.DeliveryState = domain.DeliveryConfirmed
	s.mergeLocked(msg, "push")
}

// onMessageSent handles the echo confirming the caller's own send. It is
// applied unconditionally; reconciliation makes it idempotent with the
// response-side confirmation.
func (s *Store) onMessageSent(payload json.RawMessage) {
	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("malformed message_sent payload", zap.Error(err))
		return
	}

	msg.DeliveryState = domain.DeliveryConfirmed
	s.mu.Lock()
	s.mergeLocked(msg, "push")
	s.mu.Unlock()
}

// mergeLocked reconciles one confirmed message into the cache. Matching
// by server ID wins; otherwise a pending message from the same sender
// with the same content inside the reconcile window is promoted in
// place. Everything else inserts as a new entry. Caller holds s.mu.
func (s *Store) mergeLocked(incoming domain.Message, source string) {
	msgs := s.byConv[incoming.ConversationID]

	if incoming.ID != 0 {
		for i := range msgs {
			if msgs[i].ID == incoming.ID {
				return
			}
		}
	}

	for i := range msgs {
		if msgs[i].DeliveryState != domain.DeliveryPending {
			continue
		}
		if msgs[i].SenderID != incoming.SenderID || msgs[i].Content != incoming.Content {
			continue
		}
		delta := incoming.SentAt.Sub(msgs[i].SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > constants.ReconcileWindow {
			continue
		}

		localID := msgs[i].LocalID
		msgs[i] = incoming
		msgs[i].LocalID = localID
		s.sortLocked(incoming.ConversationID)
		metrics.MessagesReconciledTotal.WithLabelValues(source).Inc()
		return
	}

	s.byConv[incoming.ConversationID] = append(msgs, incoming)
	s.sortLocked(incoming.ConversationID)
	metrics.MessagesReconciledTotal.WithLabelValues(source).Inc()
}

// sortLocked restores the conversation's total order: send time first,
// arrival order for equal timestamps.
func (s *Store) sortLocked(conversationID int64) {
	msgs := s.byConv[conversationID]
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}

func (s *Store) snapshotLocked(conversationID int64) []domain.Message {
	msgs := s.byConv[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}
