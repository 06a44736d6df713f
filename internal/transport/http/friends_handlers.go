package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/service/friends"
)

// FriendsHandlers provides HTTP handlers for friend management endpoints.
type FriendsHandlers struct {
	service *friends.Service
	log     *zerolog.Logger
}

// NewFriendsHandlers creates a new friends handlers instance.
func NewFriendsHandlers(svc *friends.Service, logger *zerolog.Logger) *FriendsHandlers {
	return &FriendsHandlers{
		service: svc,
		log:     logger,
	}
}

// AddFriendRequest represents the request body for adding a friend.
type AddFriendRequest struct {
	Username string `json:"username" binding:"required"`
}

// FriendResponse represents a friend in API responses.
type FriendResponse struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PhotoData   string `json:"photo_data,omitempty"`
}

// ListFriends handles listing friends.
// GET /api/friends
func (h *FriendsHandlers) ListFriends(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}

	list, err := h.service.List(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list friends")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]FriendResponse, 0, len(list))
	for _, f := range list {
		response = append(response, FriendResponse(toProtoFriend(f)))
	}
	c.JSON(http.StatusOK, response)
}

// AddFriend adds a friend by username.
// POST /api/friends
func (h *FriendsHandlers) AddFriend(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req AddFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid add friend request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	friend, err := h.service.AddByUsername(c.Request.Context(), uid, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, friends.ErrCannotFriendSelf):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "You can't add yourself."})
		case errors.Is(err, friends.ErrAlreadyFriends):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "already friends"})
		case errors.Is(err, friends.ErrUserNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "No user found with that name."})
		default:
			h.log.Error().Err(err).Int64("user_id", uid).Str("username", req.Username).Msg("failed to add friend")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, FriendResponse(toProtoFriend(*friend)))
}

// RemoveFriend removes a friend.
// DELETE /api/friends/:userId
func (h *FriendsHandlers) RemoveFriend(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}

	friendID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	if err := h.service.Remove(c.Request.Context(), uid, friendID); err != nil {
		if errors.Is(err, friends.ErrNotFriends) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not friends"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", uid).Int64("friend_id", friendID).Msg("failed to remove friend")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}
