package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/proto"
	"github.com/vovakirdan/pairchat/internal/service/chat"
)

// MessageHandlers provides HTTP handlers for conversation messages.
type MessageHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *chat.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{chat: svc, log: logger}
}

// SendMessageRequest represents the request body for sending a message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// HistoryResponse is a page of conversation history.
type HistoryResponse struct {
	Messages []proto.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

// History returns messages of the conversation with a friend.
// GET /api/conversations/:friendId/messages?limit=50&before=123
func (h *MessageHandlers) History(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}
	friendID, ok := parseIDParam(c, "friendId")
	if !ok {
		return
	}

	limit := chat.DefaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = chat.ClampLimit(n)
	}

	var beforeID *int64
	if v := c.Query("before"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before"})
			return
		}
		beforeID = &id
	}

	msgs, err := h.chat.History(c.Request.Context(), uid, friendID, limit, beforeID)
	if err != nil {
		h.writeChatError(c, err, uid)
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Messages: toProtoMessages(msgs),
		HasMore:  len(msgs) == limit,
	})
}

// Send posts a message to a friend.
// POST /api/conversations/:friendId/messages
func (h *MessageHandlers) Send(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}
	friendID, ok := parseIDParam(c, "friendId")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), uid, friendID, req.Text)
	if err != nil {
		h.writeChatError(c, err, uid)
		return
	}
	c.JSON(http.StatusCreated, toProtoMessage(*msg))
}

// Delete removes one of the caller's messages.
// DELETE /api/messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.chat.Delete(c.Request.Context(), uid, id); err != nil {
		h.writeChatError(c, err, uid)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandlers) writeChatError(c *gin.Context, err error, userID int64) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, chat.ErrNotFriends), errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, chat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Int64("user_id", userID).Msg("message operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
