package call

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatline-backend/internal/domain"
	"chatline-backend/pkg/constants"
	apperrors "chatline-backend/pkg/errors"
	"chatline-backend/pkg/logger"
	"chatline-backend/pkg/metrics"
)

// Outbound event names
const (
	EventCallStatus   = "call-status"
	EventCallIncoming = "call-incoming"
)

// StatusEvent is broadcast on every call state change
type StatusEvent struct {
	CallID   uuid.UUID `json:"callId"`
	Status   string    `json:"status"`
	Duration *int      `json:"duration,omitempty"`
}

// IncomingEvent is sent to callee connections when a call starts ringing
type IncomingEvent struct {
	CallID         uuid.UUID `json:"callId"`
	ConversationID uuid.UUID `json:"conversationId"`
	FromUserID     uuid.UUID `json:"fromUserId"`
	CallType       string    `json:"type"`
}

// CallLogRepository persists durable call records
type CallLogRepository interface {
	Create(ctx context.Context, log *domain.CallLog) error
	MarkAccepted(ctx context.Context, callID uuid.UUID) error
	MarkRejected(ctx context.Context, callID uuid.UUID) error
	MarkMissed(ctx context.Context, callID uuid.UUID) error
	MarkEnded(ctx context.Context, callID uuid.UUID, duration *int) error
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLog, error)
}

// Broadcaster fans events out to the live connections of a conversation room
type Broadcaster interface {
	Broadcast(conversationID uuid.UUID, event string, payload interface{})
	BroadcastExceptUser(conversationID, userID uuid.UUID, event string, payload interface{})
	BroadcastToUser(conversationID, userID uuid.UUID, event string, payload interface{})
}

// Service drives the call session state machine: ringing through accepted,
// rejected, ended or ring-timeout, with the in-memory registry and the
// durable call log kept consistent even under out-of-order or duplicate
// client signals.
type Service struct {
	logs        CallLogRepository
	registry    *Registry
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	ringTimeout time.Duration
}

// NewService creates a new call service. metrics may be nil in tests;
// ringTimeout <= 0 selects the default.
func NewService(logs CallLogRepository, registry *Registry, broadcaster Broadcaster, m *metrics.Metrics, ringTimeout time.Duration) *Service {
	if ringTimeout <= 0 {
		ringTimeout = constants.CallRingTimeout
	}
	return &Service{
		logs:        logs,
		registry:    registry,
		broadcaster: broadcaster,
		metrics:     m,
		ringTimeout: ringTimeout,
	}
}

// StartInput contains call initiation data
type StartInput struct {
	CallID         uuid.UUID
	ConversationID uuid.UUID
	CallerID       uuid.UUID
	CalleeID       uuid.UUID
	CallType       string
}

// Start begins a new call session. The durable log is created with status
// missed before the session is observable, so an unanswered call that never
// signals again is already recorded correctly. The ring-timeout is armed
// and the room is notified: a ringing status for everyone and an incoming
// event for every connection except the caller's.
func (s *Service) Start(ctx context.Context, input *StartInput) error {
	if input.CallType != constants.CallTypeAudio && input.CallType != constants.CallTypeVideo {
		return apperrors.NewValidationError("unknown call type")
	}

	session := &Session{
		CallID:         input.CallID,
		ConversationID: input.ConversationID,
		CallerID:       input.CallerID,
		CalleeID:       input.CalleeID,
		CallType:       input.CallType,
		StartedAt:      time.Now().UTC(),
	}

	// Hold the session lock from registration until the timer is armed so
	// concurrent signals for this call id serialize behind the start.
	session.mu.Lock()

	if err := s.registry.Add(session); err != nil {
		session.mu.Unlock()
		return apperrors.NewWithStatus(apperrors.ErrCodeCallExists, "call already in progress", http.StatusConflict)
	}

	log := &domain.CallLog{
		ID:             input.CallID,
		ConversationID: input.ConversationID,
		CallerID:       input.CallerID,
		ReceiverID:     input.CalleeID,
		CallType:       input.CallType,
		Status:         constants.CallStatusMissed,
		StartedAt:      session.StartedAt,
	}

	if err := s.logs.Create(ctx, log); err != nil {
		session.resolved = true
		s.registry.Remove(input.CallID)
		session.mu.Unlock()
		return apperrors.NewDatabaseError("failed to create call log", err)
	}

	session.timer = time.AfterFunc(s.ringTimeout, func() {
		s.resolveTimeout(session)
	})

	session.mu.Unlock()

	s.broadcaster.Broadcast(input.ConversationID, EventCallStatus, StatusEvent{
		CallID: input.CallID,
		Status: constants.CallStatusRinging,
	})
	s.broadcaster.BroadcastExceptUser(input.ConversationID, input.CallerID, EventCallIncoming, IncomingEvent{
		CallID:         input.CallID,
		ConversationID: input.ConversationID,
		FromUserID:     input.CallerID,
		CallType:       input.CallType,
	})

	if s.metrics != nil {
		s.metrics.RecordCallStarted(input.CallType)
	}

	return nil
}

// Accept answers a ringing call. The durable log is updated before the
// in-memory transition, so a failed write leaves the session ringing and
// retryable. A missing or already-resolved session takes the idempotent
// path: re-broadcast ended, report call-not-found, touch nothing durable.
func (s *Service) Accept(ctx context.Context, callID, conversationID uuid.UUID) error {
	session := s.registry.Get(callID)
	if session == nil {
		return s.alreadyResolved(conversationID, callID)
	}

	session.mu.Lock()
	if session.resolved {
		session.mu.Unlock()
		return s.alreadyResolved(conversationID, callID)
	}

	if err := s.logs.MarkAccepted(ctx, callID); err != nil {
		session.mu.Unlock()
		return apperrors.NewDatabaseError("failed to mark call accepted", err)
	}

	session.disarmTimer()
	session.acceptedAt = time.Now().UTC()
	session.mu.Unlock()

	s.broadcaster.Broadcast(session.ConversationID, EventCallStatus, StatusEvent{
		CallID: callID,
		Status: constants.CallStatusAccepted,
	})

	return nil
}

// Reject declines a ringing call. The session is destroyed first; the
// durable update and broadcasts follow. Callers see no_answer, everyone
// else sees ended so callee-facing UIs close.
func (s *Service) Reject(ctx context.Context, callID, conversationID uuid.UUID) error {
	session, ok := s.resolve(callID)
	if !ok {
		return s.alreadyResolved(conversationID, callID)
	}

	if err := s.logs.MarkRejected(ctx, callID); err != nil {
		logger.Error("failed to mark call rejected",
			zap.String("call_id", callID.String()),
			zap.Error(err))
	}

	s.broadcaster.BroadcastToUser(session.ConversationID, session.CallerID, EventCallStatus, StatusEvent{
		CallID: callID,
		Status: constants.CallStatusNoAnswer,
	})
	s.broadcaster.BroadcastExceptUser(session.ConversationID, session.CallerID, EventCallStatus, StatusEvent{
		CallID: callID,
		Status: constants.CallStatusEnded,
	})

	if s.metrics != nil {
		s.metrics.RecordCallResolved(session.CallType, constants.CallStatusRejected)
	}

	return nil
}

// EndInput contains call termination data
type EndInput struct {
	CallID         uuid.UUID
	ConversationID uuid.UUID
	Duration       *int
}

// End terminates a call. The final duration prefers the client-supplied
// value, falls back to whole seconds since accept (floored at zero), and
// stays null for a call that was never accepted.
func (s *Service) End(ctx context.Context, input *EndInput) error {
	session, ok := s.resolve(input.CallID)
	if !ok {
		return s.alreadyResolved(input.ConversationID, input.CallID)
	}

	duration := input.Duration
	if duration == nil && !session.acceptedAt.IsZero() {
		secs := int(time.Since(session.acceptedAt).Seconds())
		if secs < 0 {
			secs = 0
		}
		duration = &secs
	}

	if err := s.logs.MarkEnded(ctx, input.CallID, duration); err != nil {
		logger.Error("failed to mark call ended",
			zap.String("call_id", input.CallID.String()),
			zap.Error(err))
	}

	s.broadcaster.Broadcast(session.ConversationID, EventCallStatus, StatusEvent{
		CallID:   input.CallID,
		Status:   constants.CallStatusEnded,
		Duration: duration,
	})

	if s.metrics != nil {
		s.metrics.RecordCallResolved(session.CallType, constants.CallStatusEnded)
		if duration != nil {
			s.metrics.RecordCallDuration(session.CallType, *duration)
		}
	}

	return nil
}

// GetUserCalls retrieves call history for a user
func (s *Service) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLog, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	calls, err := s.logs.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to get user calls", err)
	}
	return calls, nil
}

// ActiveSessions reports the number of in-memory call sessions
func (s *Service) ActiveSessions() int {
	return s.registry.Len()
}

// resolve atomically claims a session for a terminal transition. It returns
// ok=false when the session is missing or another transition already won.
func (s *Service) resolve(callID uuid.UUID) (*Session, bool) {
	session := s.registry.Get(callID)
	if session == nil {
		return nil, false
	}

	session.mu.Lock()
	if session.resolved {
		session.mu.Unlock()
		return nil, false
	}
	session.disarmTimer()
	session.resolved = true
	session.mu.Unlock()

	s.registry.Remove(callID)
	return session, true
}

// resolveTimeout fires when a ringing call was never answered. It competes
// with accept/reject/end under the session lock; if any of them won, or the
// call was accepted, it does nothing.
func (s *Service) resolveTimeout(session *Session) {
	session.mu.Lock()
	if session.resolved || !session.acceptedAt.IsZero() {
		session.mu.Unlock()
		return
	}
	session.resolved = true
	session.mu.Unlock()

	s.registry.Remove(session.CallID)

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if err := s.logs.MarkMissed(ctx, session.CallID); err != nil {
		logger.Error("failed to mark call missed",
			zap.String("call_id", session.CallID.String()),
			zap.Error(err))
	}

	s.broadcaster.Broadcast(session.ConversationID, EventCallStatus, StatusEvent{
		CallID: session.CallID,
		Status: constants.CallStatusNoAnswer,
	})

	if s.metrics != nil {
		s.metrics.RecordCallResolved(session.CallType, constants.CallStatusNoAnswer)
	}
}

// alreadyResolved is the idempotent path for a signal addressing a call with
// no live session: re-broadcast a terminal ended status as a safety net and
// report call-not-found without touching durable state.
func (s *Service) alreadyResolved(conversationID, callID uuid.UUID) error {
	s.broadcaster.Broadcast(conversationID, EventCallStatus, StatusEvent{
		CallID: callID,
		Status: constants.CallStatusEnded,
	})
	return apperrors.NewNotFoundError(apperrors.ErrCodeCallNotFound, "call session not found")
}
