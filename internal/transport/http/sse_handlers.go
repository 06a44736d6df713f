package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/service/chat"
)

const defaultSSEKeepAlive = 25 * time.Second

// StreamHandlers serves live queries as Server-Sent Events.
type StreamHandlers struct {
	hub       *core.Hub
	live      *liveQueries
	keepAlive time.Duration
	shutdown  <-chan struct{}
	log       *zerolog.Logger
}

// NewStreamHandlers creates a new SSE handlers instance. Streams end when
// shutdown is closed; a nil channel never fires.
func NewStreamHandlers(hub *core.Hub, live *liveQueries, keepAlive time.Duration, shutdown <-chan struct{}, logger *zerolog.Logger) *StreamHandlers {
	if keepAlive <= 0 {
		keepAlive = defaultSSEKeepAlive
	}
	return &StreamHandlers{hub: hub, live: live, keepAlive: keepAlive, shutdown: shutdown, log: logger}
}

// ConversationStream streams the message feed shared with a friend.
// GET /api/conversations/:friendId/stream
func (h *StreamHandlers) ConversationStream(c *gin.Context) {
	uid, username, ok := currentUser(c)
	if !ok {
		return
	}
	friendID, ok := parseIDParam(c, "friendId")
	if !ok {
		return
	}

	ok, err := h.live.friends.IsFriend(c.Request.Context(), uid, friendID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to check friendship")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !ok || friendID == uid {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: chat.ErrNotFriends.Error()})
		return
	}

	h.stream(c, uid, username, func(client *core.Client) error {
		_, err := h.live.subscribeConversation(c.Request.Context(), client, friendID)
		return err
	})
}

// FriendsStream streams the caller's friends list.
// GET /api/friends/stream
func (h *StreamHandlers) FriendsStream(c *gin.Context) {
	uid, username, ok := currentUser(c)
	if !ok {
		return
	}
	h.stream(c, uid, username, func(client *core.Client) error {
		_, err := h.live.subscribeFriends(c.Request.Context(), client)
		return err
	})
}

func (h *StreamHandlers) stream(c *gin.Context, userID int64, username string, subscribe func(*core.Client) error) {
	ctx := c.Request.Context()

	client := core.NewClient(uuid.NewString(), userID, username)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	if err := subscribe(client); err != nil {
		if errors.Is(err, ctx.Err()) {
			return
		}
		code, msg := errorCode(err)
		if code == core.ErrCodeInternal {
			h.log.Error().Err(err).Int64("user_id", userID).Msg("live subscription failed")
		}
		c.JSON(http.StatusInternalServerError, errorOutbound(code, msg))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	h.log.Debug().Str("client_id", client.ID).Int64("user_id", userID).Msg("sse stream opened")
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Kind.String(), outboundFromEvent(ev))
			// an error ends the subscription, so it ends the stream too
			return ev.Kind != core.EventError
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-h.shutdown:
			return false
		case <-ctx.Done():
			return false
		}
	})
	h.log.Debug().Str("client_id", client.ID).Msg("sse stream closed")
}
