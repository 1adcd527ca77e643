package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatline-backend/internal/service/call"
	"chatline-backend/internal/service/chat"
	"chatline-backend/pkg/constants"
	apperrors "chatline-backend/pkg/errors"
	"chatline-backend/pkg/logger"
	"chatline-backend/pkg/metrics"
)

// Inbound intent names
const (
	EventJoinRoom         = "join-room"
	EventSendMessage      = "send-message"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventMessageDelivered = "message-delivered"
	EventMessageSeen      = "message-seen"
	EventCallStart        = "call-start"
	EventCallAccept       = "call-accept"
	EventCallReject       = "call-reject"
	EventCallEnd          = "call-end"
	EventCallOffer        = "call-offer"
	EventCallAnswer       = "call-answer"
	EventCallICE          = "call-ice"
	EventCallReady        = "call-ready"

	// EventError is the failure acknowledgment sent back to the emitting
	// connection; intent failures never terminate the channel.
	EventError = "error"
)

// ErrorEvent is the payload of a failure acknowledgment
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MembershipChecker is the conversation-management collaborator surface:
// the gateway checks membership before granting room access.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// PresenceTracker marks users online and offline as sockets come and go
type PresenceTracker interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.WebSocketReadBufferSize,
	WriteBufferSize: constants.WebSocketWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced by the gateway proxy
	},
}

// Gateway owns the WebSocket endpoint: it upgrades authenticated
// connections and dispatches every inbound intent to the owning component.
type Gateway struct {
	hub      *Hub
	chat     *chat.Service
	calls    *call.Service
	members  MembershipChecker
	presence PresenceTracker
	metrics  *metrics.Metrics
}

// NewGateway creates a new gateway. metrics may be nil in tests.
func NewGateway(hub *Hub, chatSvc *chat.Service, callSvc *call.Service, members MembershipChecker, presence PresenceTracker, m *metrics.Metrics) *Gateway {
	return &Gateway{
		hub:      hub,
		chat:     chatSvc,
		calls:    callSvc,
		members:  members,
		presence: presence,
		metrics:  m,
	}
}

// ServeWS upgrades an authenticated request to a WebSocket connection.
// Authentication happened in middleware; the verified user identity is the
// only thing trusted from the request.
func (g *Gateway) ServeWS(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := newClient(g, conn, userID)

	if g.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := g.presence.SetUserOnline(ctx, userID); err != nil {
			logger.Debug("failed to set user online", zap.Error(err))
		}
		cancel()
	}

	if g.metrics != nil {
		g.metrics.IncrementWebSocketConnections()
	}

	go client.writePump()
	go client.readPump()
}

// disconnect tears down a connection's transient state
func (g *Gateway) disconnect(client *Client) {
	g.hub.LeaveAll(client)

	if g.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.presence.SetUserOffline(ctx, client.userID); err != nil {
			logger.Debug("failed to set user offline", zap.Error(err))
		}
	}

	if g.metrics != nil {
		g.metrics.DecrementWebSocketConnections()
	}
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// dispatch routes one inbound frame to its handler. Malformed frames are
// dropped; handler failures become error acknowledgments; panics are
// contained so the channel survives.
func (g *Gateway) dispatch(client *Client, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in websocket handler",
				zap.String("user_id", client.userID.String()),
				zap.Any("panic", r))
			g.sendError(client, apperrors.ErrCodeInternal, "internal error")
		}
	}()

	var env inboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		logger.Debug("dropping malformed frame",
			zap.String("user_id", client.userID.String()))
		return
	}

	if g.metrics != nil {
		g.metrics.RecordWebSocketEvent(env.Event, "in")
	}

	switch env.Event {
	case EventJoinRoom:
		g.handleJoinRoom(client, env.Data)
	case EventSendMessage:
		g.handleSendMessage(client, env.Data)
	case EventTypingStart:
		g.handleTyping(client, env.Data, true)
	case EventTypingStop:
		g.handleTyping(client, env.Data, false)
	case EventMessageDelivered:
		g.handleMessageStatus(client, env.Data, "delivered")
	case EventMessageSeen:
		g.handleMessageStatus(client, env.Data, "seen")
	case EventCallStart:
		g.handleCallStart(client, env.Data)
	case EventCallAccept:
		g.handleCallAccept(client, env.Data)
	case EventCallReject:
		g.handleCallReject(client, env.Data)
	case EventCallEnd:
		g.handleCallEnd(client, env.Data)
	case EventCallOffer, EventCallAnswer, EventCallICE, EventCallReady:
		g.handleSignal(client, env.Event, env.Data)
	default:
		logger.Debug("unknown event",
			zap.String("event", env.Event),
			zap.String("user_id", client.userID.String()))
	}
}

type joinRoomPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
}

func (g *Gateway) handleJoinRoom(client *Client, data json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == uuid.Nil {
		g.sendError(client, apperrors.ErrCodeValidation, "conversationId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	isMember, err := g.members.IsParticipant(ctx, p.ConversationID, client.userID)
	if err != nil {
		g.sendError(client, apperrors.ErrCodeDatabase, "membership check failed")
		return
	}
	if !isMember {
		g.sendError(client, apperrors.ErrCodeForbidden, "not a conversation participant")
		return
	}

	g.hub.Join(client, p.ConversationID)
}

type sendMessagePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	Content        string    `json:"content"`
	MessageType    string    `json:"type"`
}

func (g *Gateway) handleSendMessage(client *Client, data json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == uuid.Nil {
		g.sendError(client, apperrors.ErrCodeValidation, "conversationId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	// The authenticated identity wins over whatever the payload claims.
	_, err := g.chat.SendMessage(ctx, &chat.SendMessageInput{
		ConversationID: p.ConversationID,
		SenderID:       client.userID,
		Content:        p.Content,
		MessageType:    p.MessageType,
	})
	if err != nil {
		g.sendAppError(client, err)
	}
}

type typingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
}

func (g *Gateway) handleTyping(client *Client, data json.RawMessage, isTyping bool) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == uuid.Nil {
		return
	}

	g.chat.Typing(p.ConversationID, client.userID, isTyping)
}

type messageStatusPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	MessageID      uuid.UUID `json:"messageId"`
}

func (g *Gateway) handleMessageStatus(client *Client, data json.RawMessage, status string) {
	var p messageStatusPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == uuid.Nil || p.MessageID == uuid.Nil {
		g.sendError(client, apperrors.ErrCodeValidation, "conversationId and messageId are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if err := g.chat.MarkStatus(ctx, p.ConversationID, client.userID, p.MessageID, status); err != nil {
		g.sendAppError(client, err)
	}
}

type callStartPayload struct {
	CallID         uuid.UUID `json:"callId"`
	ConversationID uuid.UUID `json:"conversationId"`
	FromUserID     uuid.UUID `json:"fromUserId"`
	ToUserID       uuid.UUID `json:"toUserId"`
	CallType       string    `json:"type"`
}

func (g *Gateway) handleCallStart(client *Client, data json.RawMessage) {
	var p callStartPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == uuid.Nil || p.ConversationID == uuid.Nil || p.ToUserID == uuid.Nil {
		g.sendError(client, apperrors.ErrCodeValidation, "callId, conversationId and toUserId are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	err := g.calls.Start(ctx, &call.StartInput{
		CallID:         p.CallID,
		ConversationID: p.ConversationID,
		CallerID:       client.userID,
		CalleeID:       p.ToUserID,
		CallType:       p.CallType,
	})
	if err != nil {
		g.sendAppError(client, err)
	}
}

type callActionPayload struct {
	CallID         uuid.UUID `json:"callId"`
	ConversationID uuid.UUID `json:"conversationId"`
	FromUserID     uuid.UUID `json:"fromUserId"`
	ToUserID       uuid.UUID `json:"toUserId"`
	Duration       *int      `json:"duration,omitempty"`
}

func (g *Gateway) parseCallAction(client *Client, data json.RawMessage) (*callActionPayload, bool) {
	var p callActionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == uuid.Nil || p.ConversationID == uuid.Nil {
		g.sendError(client, apperrors.ErrCodeValidation, "callId and conversationId are required")
		return nil, false
	}
	return &p, true
}

func (g *Gateway) handleCallAccept(client *Client, data json.RawMessage) {
	p, ok := g.parseCallAction(client, data)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if err := g.calls.Accept(ctx, p.CallID, p.ConversationID); err != nil {
		g.ackCallError(client, err)
	}
}

func (g *Gateway) handleCallReject(client *Client, data json.RawMessage) {
	p, ok := g.parseCallAction(client, data)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if err := g.calls.Reject(ctx, p.CallID, p.ConversationID); err != nil {
		g.ackCallError(client, err)
	}
}

func (g *Gateway) handleCallEnd(client *Client, data json.RawMessage) {
	p, ok := g.parseCallAction(client, data)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	err := g.calls.End(ctx, &call.EndInput{
		CallID:         p.CallID,
		ConversationID: p.ConversationID,
		Duration:       p.Duration,
	})
	if err != nil {
		g.ackCallError(client, err)
	}
}

type signalEnvelope struct {
	CallID         uuid.UUID `json:"callId"`
	ConversationID uuid.UUID `json:"conversationId"`
}

// handleSignal relays WebRTC negotiation payloads verbatim to the rest of
// the room. The relay is stateless: it validates routing fields and nothing
// else; payloads missing either field are dropped silently.
func (g *Gateway) handleSignal(client *Client, event string, data json.RawMessage) {
	var s signalEnvelope
	if err := json.Unmarshal(data, &s); err != nil || s.CallID == uuid.Nil || s.ConversationID == uuid.Nil {
		logger.Debug("dropping unroutable signal",
			zap.String("event", event),
			zap.String("user_id", client.userID.String()))
		return
	}

	g.hub.BroadcastExceptClient(s.ConversationID, client, event, data)
}

// sendError sends a failure acknowledgment to the emitting connection
func (g *Gateway) sendError(client *Client, code apperrors.ErrorCode, message string) {
	frame, err := json.Marshal(Event{
		Event: EventError,
		Data:  ErrorEvent{Code: string(code), Message: message},
	})
	if err != nil {
		return
	}
	client.trySend(frame)
}

// sendAppError converts a service error into a failure acknowledgment
func (g *Gateway) sendAppError(client *Client, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		g.sendError(client, appErr.Code, appErr.Message)
		return
	}
	g.sendError(client, apperrors.ErrCodeInternal, "internal error")
}

// ackCallError handles call service failures. A missing session is the
// expected idempotent outcome of duplicate or late signals and is not
// surfaced to the client; everything else is acknowledged as a failure.
func (g *Gateway) ackCallError(client *Client, err error) {
	if apperrors.CodeOf(err) == apperrors.ErrCodeCallNotFound {
		logger.Debug("call signal for resolved session",
			zap.String("user_id", client.userID.String()))
		return
	}
	g.sendAppError(client, err)
}
