package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/pairchat/internal/auth"
	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/proto"
	"github.com/vovakirdan/pairchat/internal/service/chat"
)

const helloTimeout = 10 * time.Second

var errServerShutdown = errors.New("server shutting down")

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub            *core.Hub
	auth           *auth.Service
	live           *liveQueries
	chat           *chat.Service
	originPatterns []string
	maxFrameBytes  int64
	ratePerMinute  int
	shutdown       <-chan struct{}
	log            *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, live *liveQueries, chatService *chat.Service, cfg *config.Config, shutdown <-chan struct{}, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:            hub,
		auth:           authService,
		live:           live,
		chat:           chatService,
		originPatterns: originHosts(cfg.AllowedOrigins),
		maxFrameBytes:  cfg.MaxMessageBytes,
		ratePerMinute:  cfg.RateLimitPerMinute,
		shutdown:       shutdown,
		log:            logger,
	}
}

// originHosts turns configured origins (full URLs or host patterns) into host patterns.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxFrameBytes > 0 {
		conn.SetReadLimit(h.maxFrameBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	claims, status, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		conn.Close(status, err.Error())
		return
	}

	client := core.NewClient(uuid.NewString(), claims.UserID, claims.Username)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)
	h.log.Info().Str("client_id", client.ID).Int64("user_id", client.UserID).Msg("ws client connected")

	if err := wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventWelcome,
		Data:  proto.Welcome{UserID: claims.UserID, Username: claims.Username, Protocol: proto.ProtocolVersion},
	}); err != nil {
		return
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status = websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errServerShutdown) {
		status, reason, err = websocket.StatusGoingAway, err.Error(), nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("client_id", client.ID).Msg("ws client disconnected")
	conn.Close(status, reason)
}

// handshake reads the hello frame and authenticates the connection.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*auth.Claims, websocket.StatusCode, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var inbound proto.Inbound
	if err := wsjson.Read(helloCtx, conn, &inbound); err != nil {
		return nil, websocket.StatusPolicyViolation, errors.New("hello not received")
	}

	reject := func(code, msg string, status websocket.StatusCode) (*auth.Claims, websocket.StatusCode, error) {
		_ = wsjson.Write(helloCtx, conn, errorOutbound(code, msg))
		return nil, status, errors.New(msg)
	}

	if inbound.Type != proto.InboundTypeHello {
		return reject(core.ErrCodeBadRequest, "hello must be the first message", websocket.StatusPolicyViolation)
	}
	var hello proto.HelloData
	if err := json.Unmarshal(inbound.Data, &hello); err != nil {
		return reject(core.ErrCodeBadRequest, "invalid hello payload", websocket.StatusPolicyViolation)
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return reject(core.ErrCodeUnsupportedProt, "unsupported protocol version", websocket.StatusPolicyViolation)
	}
	if hello.Token == "" {
		return reject(core.ErrCodeUnauthorized, "token is required", websocket.StatusPolicyViolation)
	}

	claims, err := h.auth.ValidateToken(ctx, hello.Token)
	if err != nil {
		return reject(core.ErrCodeUnauthorized, "invalid token", websocket.StatusPolicyViolation)
	}
	return claims, websocket.StatusNormalClosure, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newSendLimiter(h.ratePerMinute)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if protoErr := h.dispatch(ctx, client, limiter, inbound); protoErr != nil {
			if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}); err != nil {
				return err
			}
		}
	}
}

// dispatch executes one inbound frame. A non-nil result is reported to the client.
func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, limiter *rate.Limiter, inbound proto.Inbound) *proto.Error {
	bad := func(msg string) *proto.Error {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
	}
	fail := func(err error) *proto.Error {
		code, msg := errorCode(err)
		if code == core.ErrCodeInternal {
			h.log.Error().Err(err).Str("client_id", client.ID).Str("type", inbound.Type).Msg("ws request failed")
		}
		return &proto.Error{Code: code, Msg: msg}
	}

	switch inbound.Type {
	case proto.InboundTypeSubscribe, proto.InboundTypeUnsubscribe:
		var sub proto.SubscribeData
		if err := json.Unmarshal(inbound.Data, &sub); err != nil {
			return bad("invalid subscribe payload")
		}
		subscribing := inbound.Type == proto.InboundTypeSubscribe

		var err error
		switch {
		case sub.Kind == proto.SubscriptionFriends && subscribing:
			_, err = h.live.subscribeFriends(ctx, client)
		case sub.Kind == proto.SubscriptionFriends:
			err = h.live.unsubscribeFriends(ctx, client)
		case sub.Kind == proto.SubscriptionConversation && sub.FriendID <= 0:
			return bad("friend_id is required")
		case sub.Kind == proto.SubscriptionConversation && subscribing:
			_, err = h.live.subscribeConversation(ctx, client, sub.FriendID)
		case sub.Kind == proto.SubscriptionConversation:
			err = h.live.unsubscribeConversation(ctx, client, sub.FriendID)
		default:
			return bad("unknown subscription kind")
		}
		if err != nil {
			return fail(err)
		}
	case proto.InboundTypeSend:
		var msg proto.SendData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return bad("invalid send payload")
		}
		if msg.FriendID <= 0 {
			return bad("friend_id is required")
		}
		if !limiter.Allow() {
			return &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"}
		}
		if _, err := h.chat.Send(ctx, client.UserID, msg.FriendID, msg.Text); err != nil {
			return fail(err)
		}
	case proto.InboundTypeDelete:
		var del proto.DeleteData
		if err := json.Unmarshal(inbound.Data, &del); err != nil {
			return bad("invalid delete payload")
		}
		if del.MessageID <= 0 {
			return bad("message_id is required")
		}
		if err := h.chat.Delete(ctx, client.UserID, del.MessageID); err != nil {
			return fail(err)
		}
	case proto.InboundTypeHello:
		return bad("already authenticated")
	default:
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"}
	}
	return nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-h.shutdown:
			return errServerShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
