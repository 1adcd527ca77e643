package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallLog is the durable record of a call's outcome. It is created with
// status missed when the call starts and survives the in-memory session;
// it is the source of truth for call history.
type CallLog struct {
	ID             uuid.UUID `json:"callId"`
	ConversationID uuid.UUID `json:"conversationId"`
	CallerID       uuid.UUID `json:"callerId"`
	ReceiverID     uuid.UUID `json:"receiverId"`
	CallType       string    `json:"type"`   // audio, video
	Status         string    `json:"status"` // missed, accepted, rejected, ended
	Duration       *int      `json:"duration,omitempty"` // whole seconds, nil if never accepted
	StartedAt      time.Time `json:"startedAt"`
}
