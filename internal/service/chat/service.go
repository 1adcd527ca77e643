package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chatline-backend/internal/domain"
	"chatline-backend/pkg/constants"
	apperrors "chatline-backend/pkg/errors"
	"chatline-backend/pkg/metrics"
)

// Outbound event names
const (
	EventNewMessage    = "new-message"
	EventTyping        = "typing"
	EventMessageStatus = "message-status"
)

// TypingEvent is broadcast while a participant is composing
type TypingEvent struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
}

// StatusEvent is broadcast when a recipient marks a message delivered or seen
type StatusEvent struct {
	MessageID uuid.UUID `json:"messageId"`
	UserID    uuid.UUID `json:"userId"`
	Status    string    `json:"status"`
}

// MessageRepository persists messages
type MessageRepository interface {
	Save(ctx context.Context, message *domain.Message) error
	GetByConversation(ctx context.Context, conversationID uuid.UUID, bucket, limit int, pageState []byte) ([]*domain.Message, []byte, error)
}

// StatusRepository persists per-recipient delivery state
type StatusRepository interface {
	Upsert(ctx context.Context, status *domain.MessageStatus) error
}

// Broadcaster fans events out to the live connections of a conversation room
type Broadcaster interface {
	Broadcast(conversationID uuid.UUID, event string, payload interface{})
	BroadcastExceptUser(conversationID, userID uuid.UUID, event string, payload interface{})
}

// Service handles message relay, typing and delivery tracking
type Service struct {
	messages    MessageRepository
	statuses    StatusRepository
	broadcaster Broadcaster
	metrics     *metrics.Metrics
}

// NewService creates a new chat service. metrics may be nil in tests.
func NewService(messages MessageRepository, statuses StatusRepository, broadcaster Broadcaster, m *metrics.Metrics) *Service {
	return &Service{
		messages:    messages,
		statuses:    statuses,
		broadcaster: broadcaster,
		metrics:     m,
	}
}

// SendMessageInput contains message data
type SendMessageInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	MessageType    string
}

// SendMessage persists a message and fans it out to the conversation room.
// The durable write completes first so no connection ever observes a message
// that a history re-query would not return; a persistence failure fails the
// whole intent and nothing is broadcast. The sender's own connections receive
// the event too, which keeps multiple devices of one user consistent.
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*domain.Message, error) {
	if input.Content == "" {
		return nil, apperrors.NewValidationError("message content is required")
	}

	messageType := input.MessageType
	if messageType == "" {
		messageType = domain.MessageTypeText
	}

	now := time.Now().UTC()
	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Content:        input.Content,
		MessageType:    messageType,
		Bucket:         domain.CalculateBucket(now),
		CreatedAt:      now,
	}

	if err := s.messages.Save(ctx, message); err != nil {
		return nil, apperrors.NewDatabaseError("failed to save message", err)
	}

	s.broadcaster.Broadcast(message.ConversationID, EventNewMessage, message)

	if s.metrics != nil {
		s.metrics.RecordMessageRelayed(message.MessageType)
	}

	return message, nil
}

// GetMessagesInput contains history query parameters
type GetMessagesInput struct {
	ConversationID uuid.UUID
	Limit          int
	PageState      []byte
}

// GetMessagesOutput contains a page of messages in creation order
type GetMessagesOutput struct {
	Messages      []*domain.Message
	NextPageState []byte
	HasMore       bool
}

// GetMessages retrieves conversation history from the current bucket
func (s *Service) GetMessages(ctx context.Context, input *GetMessagesInput) (*GetMessagesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	currentBucket := domain.CalculateBucket(time.Now().UTC())

	messages, nextPageState, err := s.messages.GetByConversation(
		ctx,
		input.ConversationID,
		currentBucket,
		limit,
		input.PageState,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to get messages", err)
	}

	return &GetMessagesOutput{
		Messages:      messages,
		NextPageState: nextPageState,
		HasMore:       len(nextPageState) > 0,
	}, nil
}

// Typing broadcasts a typing indicator to the room, excluding the emitter.
// Nothing is persisted and stale indicators are the client's problem to
// time out.
func (s *Service) Typing(conversationID, userID uuid.UUID, isTyping bool) {
	s.broadcaster.BroadcastExceptUser(conversationID, userID, EventTyping, TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
}

// MarkStatus upserts the delivery state for (message, user) and broadcasts
// the change to the room, excluding the emitter. Last write wins per key;
// the repository refuses to downgrade seen back to delivered.
func (s *Service) MarkStatus(ctx context.Context, conversationID, userID, messageID uuid.UUID, status string) error {
	if !domain.ValidMessageStatus(status) {
		return apperrors.NewValidationError("unknown message status")
	}

	record := &domain.MessageStatus{
		MessageID: messageID,
		UserID:    userID,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.statuses.Upsert(ctx, record); err != nil {
		return apperrors.NewDatabaseError("failed to upsert message status", err)
	}

	s.broadcaster.BroadcastExceptUser(conversationID, userID, EventMessageStatus, StatusEvent{
		MessageID: messageID,
		UserID:    userID,
		Status:    status,
	})

	return nil
}
