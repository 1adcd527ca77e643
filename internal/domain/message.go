package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message types supported on the wire
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeFile  = "file"
)

// Delivery statuses for a message per recipient
const (
	MessageStatusDelivered = "delivered"
	MessageStatusSeen      = "seen"
)

// Message represents a chat message entity.
// Maps to the Cassandra messages table; immutable once created.
type Message struct {
	MessageID      uuid.UUID `json:"id" cql:"message_id"`
	ConversationID uuid.UUID `json:"conversationId" cql:"conversation_id"`
	SenderID       uuid.UUID `json:"senderId" cql:"sender_id"`
	Content        string    `json:"content" cql:"content"`
	MessageType    string    `json:"type" cql:"message_type"` // text, image, video, file
	Bucket         int       `json:"-" cql:"bucket"`
	CreatedAt      time.Time `json:"createdAt" cql:"created_at"`
}

// MessageStatus tracks per-recipient delivery state for a message.
// Keyed by (message_id, user_id); last write wins, except that a
// delivered write never downgrades an existing seen row.
type MessageStatus struct {
	MessageID uuid.UUID `json:"messageId"`
	UserID    uuid.UUID `json:"userId"`
	Status    string    `json:"status"` // delivered, seen
	UpdatedAt time.Time `json:"updatedAt"`
}

// ValidMessageStatus reports whether s is a known delivery status
func ValidMessageStatus(s string) bool {
	return s == MessageStatusDelivered || s == MessageStatusSeen
}

// CalculateBucket maps a timestamp to its monthly partition bucket (YYYYMM)
func CalculateBucket(t time.Time) int {
	return t.UTC().Year()*100 + int(t.UTC().Month())
}
