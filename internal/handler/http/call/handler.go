// Package call exposes the REST surface for call history.
package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	callservice "chatline-backend/internal/service/call"
	"chatline-backend/pkg/constants"
	apperrors "chatline-backend/pkg/errors"
	"chatline-backend/pkg/response"
)

// Handler handles call-related HTTP requests
type Handler struct {
	calls *callservice.Service
}

// NewHandler creates a new call handler
func NewHandler(calls *callservice.Service) *Handler {
	return &Handler{calls: calls}
}

// GetHistory handles GET /api/v1/calls
func (h *Handler) GetHistory(c *gin.Context) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(constants.DefaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	calls, err := h.calls.GetUserCalls(c.Request.Context(), userID, limit, offset)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
			return
		}
		response.InternalError(c, "internal server error")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"calls": calls})
}
