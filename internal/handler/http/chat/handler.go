// Package chat exposes the REST surface for conversation history.
package chat

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	chatservice "chatline-backend/internal/service/chat"
	apperrors "chatline-backend/pkg/errors"
	"chatline-backend/pkg/response"
)

// MembershipChecker gates history access to conversation participants
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// Handler handles chat-related HTTP requests
type Handler struct {
	chat    *chatservice.Service
	members MembershipChecker
}

// NewHandler creates a new chat handler
func NewHandler(chat *chatservice.Service, members MembershipChecker) *Handler {
	return &Handler{
		chat:    chat,
		members: members,
	}
}

// messagesPage is the wire shape of one history page
type messagesPage struct {
	Messages  interface{} `json:"messages"`
	PageState string      `json:"pageState,omitempty"`
	HasMore   bool        `json:"hasMore"`
}

// GetMessages handles GET /api/v1/conversations/:id/messages
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "invalid conversation ID")
		return
	}

	isMember, err := h.members.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.InternalError(c, "failed to verify conversation membership")
		return
	}
	if !isMember {
		response.Forbidden(c, "not a conversation participant")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	var pageState []byte
	if raw := c.Query("pageState"); raw != "" {
		pageState, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			response.ValidationError(c, "invalid pageState")
			return
		}
	}

	page, err := h.chat.GetMessages(c.Request.Context(), &chatservice.GetMessagesInput{
		ConversationID: conversationID,
		Limit:          limit,
		PageState:      pageState,
	})
	if err != nil {
		respondAppError(c, err)
		return
	}

	out := messagesPage{
		Messages: page.Messages,
		HasMore:  page.HasMore,
	}
	if len(page.NextPageState) > 0 {
		out.PageState = base64.URLEncoding.EncodeToString(page.NextPageState)
	}

	response.Success(c, http.StatusOK, out)
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok
}

func respondAppError(c *gin.Context, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
		return
	}
	response.InternalError(c, "internal server error")
}
