package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/rag"
	"github.com/hrygo/stylebot/internal/logging"
)

const maxMessageLength = 2000

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	UserID              string                 `json:"user_id"`
	Message             string                 `json:"message"`
	ConversationHistory []conversation.Message `json:"conversation_history,omitempty"`
}

// ChatHandler answers one shopper message.
func (s *APIV1Service) ChatHandler(c echo.Context) error {
	if s.Chat == nil {
		return unavailable("chat")
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if len([]rune(req.Message)) > maxMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest, "message is too long")
	}

	ctx := c.Request().Context()
	resp, err := s.Chat.Chat(ctx, req.UserID, req.Message, req.ConversationHistory)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		logging.FromContext(ctx).Error("chat failed", "user_id", req.UserID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to answer message").SetInternal(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetHistory returns a user's stored messages, oldest first.
func (s *APIV1Service) GetHistory(c echo.Context) error {
	if s.Conversations == nil {
		return unavailable("conversation store")
	}
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	messages, err := s.Conversations.GetHistory(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history").SetInternal(err)
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":         userID,
		"conversation_id": conversation.ConversationID(userID),
		"messages":        messages,
	})
}

// ClearContext drops the anchor product and restarts the context window.
func (s *APIV1Service) ClearContext(c echo.Context) error {
	if s.Conversations == nil {
		return unavailable("conversation store")
	}
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}
	if err := s.Conversations.ClearContext(c.Request().Context(), userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear context").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}
