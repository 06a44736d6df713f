package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/proto"
)

func makeJWT(secret, aud, iss string, userID int64, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     itoa(userID),
		"exp":     time.Now().Add(ttl).Unix(),
	}
	if aud != "" {
		claims["aud"] = aud
	}
	if iss != "" {
		claims["iss"] = iss
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// expectRejected dials, sends one frame and expects an error with code followed by a close.
func expectRejected(t *testing.T, env *testEnv, typ string, data any, code string) {
	t.Helper()
	ctx := testContext(t)

	conn, _, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	writeFrame(t, ctx, conn, typ, data)
	out := readFrame(t, ctx, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != code {
		t.Fatalf("expected %s error, got %+v", code, out)
	}

	var next wireOutbound
	if err := readNext(ctx, conn, &next); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func readNext(ctx context.Context, conn *websocket.Conn, dst any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func TestWebSocketRequiresHelloFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	expectRejected(t, env, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionFriends}, core.ErrCodeBadRequest)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)
	expectRejected(t, env, proto.InboundTypeHello, proto.HelloData{Token: "not-a-jwt"}, core.ErrCodeUnauthorized)
}

func TestWebSocketJWTWrongSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	token, err := makeJWT("other-secret", env.cfg.JWTAudience, env.cfg.JWTIssuer, 1, time.Hour)
	if err != nil {
		t.Fatalf("make jwt: %v", err)
	}
	expectRejected(t, env, proto.InboundTypeHello, proto.HelloData{Token: token}, core.ErrCodeUnauthorized)
}

func TestWebSocketJWTExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	token, err := makeJWT(testJWTSecret, env.cfg.JWTAudience, env.cfg.JWTIssuer, 1, -time.Minute)
	if err != nil {
		t.Fatalf("make jwt: %v", err)
	}
	expectRejected(t, env, proto.InboundTypeHello, proto.HelloData{Token: token}, core.ErrCodeUnauthorized)
}

func TestProtocolVersionMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.register(t, "alice")
	expectRejected(t, env, proto.InboundTypeHello,
		proto.HelloData{Token: token, Protocol: proto.ProtocolVersion + 1}, core.ErrCodeUnsupportedProt)
}

func TestWebSocketConversationSnapshotAndEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceToken, aliceID := env.register(t, "alice")
	bobToken, bobID := env.register(t, "bob")
	env.befriend(t, aliceID, "bob")

	ctx := testContext(t)
	if _, err := env.chat.Send(ctx, aliceID, bobID, "before subscribe"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	bob := env.dialAuthed(t, ctx, bobToken)
	writeFrame(t, ctx, bob, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionConversation, FriendID: aliceID})

	snap := readEvent(t, ctx, bob, core.EventSnapshot.String())
	var snapshot proto.ConversationSnapshot
	if err := json.Unmarshal(snap.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Messages) != 1 || snapshot.Messages[0].Text != "before subscribe" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	alice := env.dialAuthed(t, ctx, aliceToken)
	writeFrame(t, ctx, alice, proto.InboundTypeSend, proto.SendData{FriendID: bobID, Text: "live hello"})

	added := readEvent(t, ctx, bob, core.EventMessageAdded.String())
	var msg proto.Message
	if err := json.Unmarshal(added.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Text != "live hello" || msg.SenderID != aliceID || msg.DisplayName != "alice" || msg.ConversationKey != snapshot.ConversationKey {
		t.Fatalf("unexpected message: %+v", msg)
	}

	writeFrame(t, ctx, alice, proto.InboundTypeDelete, proto.DeleteData{MessageID: msg.ID})
	deleted := readEvent(t, ctx, bob, core.EventMessageDeleted.String())
	var del proto.MessageDeleted
	if err := json.Unmarshal(deleted.Data, &del); err != nil {
		t.Fatalf("decode deletion: %v", err)
	}
	if del.ID != msg.ID {
		t.Fatalf("unexpected deletion: %+v", del)
	}
}

func TestWebSocketSubscriptionErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceToken, aliceID := env.register(t, "alice")
	_, bobID := env.register(t, "bob")

	ctx := testContext(t)
	alice := env.dialAuthed(t, ctx, aliceToken)

	writeFrame(t, ctx, alice, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionConversation, FriendID: bobID})
	if out := readFrame(t, ctx, alice); out.Error == nil || out.Error.Code != core.ErrCodeNotFriends {
		t.Fatalf("expected not_friends, got %+v", out)
	}

	writeFrame(t, ctx, alice, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionFriends})
	readEvent(t, ctx, alice, core.EventSnapshot.String())
	writeFrame(t, ctx, alice, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionFriends})
	if out := readFrame(t, ctx, alice); out.Error == nil || out.Error.Code != core.ErrCodeAlreadySubbed {
		t.Fatalf("expected already_subscribed, got %+v", out)
	}

	writeFrame(t, ctx, alice, proto.InboundTypeUnsubscribe, proto.SubscribeData{Kind: proto.SubscriptionConversation, FriendID: bobID})
	if out := readFrame(t, ctx, alice); out.Error == nil || out.Error.Code != core.ErrCodeNotSubscribed {
		t.Fatalf("expected not_subscribed, got %+v", out)
	}

	writeFrame(t, ctx, alice, proto.InboundTypeSend, proto.SendData{FriendID: aliceID, Text: "self"})
	if out := readFrame(t, ctx, alice); out.Error == nil || out.Error.Code != core.ErrCodeNotFriends {
		t.Fatalf("expected not_friends for self send, got %+v", out)
	}

	writeFrame(t, ctx, alice, "shout", map[string]string{})
	if out := readFrame(t, ctx, alice); out.Error == nil || out.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", out)
	}
}

func TestWebSocketFriendsLiveList(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceToken, _ := env.register(t, "alice")
	bobToken, bobID := env.register(t, "bob")

	ctx := testContext(t)
	bob := env.dialAuthed(t, ctx, bobToken)
	writeFrame(t, ctx, bob, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionFriends})

	snap := readEvent(t, ctx, bob, core.EventSnapshot.String())
	var snapshot proto.FriendsSnapshot
	if err := json.Unmarshal(snap.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Friends) != 0 {
		t.Fatalf("expected empty friends snapshot, got %+v", snapshot)
	}

	if resp := env.do(t, http.MethodPost, "/api/friends", aliceToken, AddFriendRequest{Username: "bob"}); resp.Code != http.StatusCreated {
		t.Fatalf("add friend: %d", resp.Code)
	}
	added := readEvent(t, ctx, bob, core.EventFriendAdded.String())
	var friend proto.Friend
	if err := json.Unmarshal(added.Data, &friend); err != nil {
		t.Fatalf("decode friend: %v", err)
	}
	if friend.Username != "alice" {
		t.Fatalf("unexpected friend: %+v", friend)
	}

	name := "Queen Alice"
	if resp := env.do(t, http.MethodPut, "/api/profile", aliceToken, UpdateProfileRequest{DisplayName: &name}); resp.Code != http.StatusOK {
		t.Fatalf("update profile: %d", resp.Code)
	}
	updated := readEvent(t, ctx, bob, core.EventProfileUpdated.String())
	if err := json.Unmarshal(updated.Data, &friend); err != nil {
		t.Fatalf("decode profile update: %v", err)
	}
	if friend.DisplayName != name {
		t.Fatalf("unexpected profile update: %+v", friend)
	}

	if resp := env.do(t, http.MethodDelete, "/api/friends/"+itoa(bobID), aliceToken, nil); resp.Code != http.StatusNoContent {
		t.Fatalf("remove friend: %d", resp.Code)
	}
	removed := readEvent(t, ctx, bob, core.EventFriendRemoved.String())
	var gone proto.FriendRemoved
	if err := json.Unmarshal(removed.Data, &gone); err != nil {
		t.Fatalf("decode removal: %v", err)
	}
	if gone.UserID != friend.UserID {
		t.Fatalf("unexpected removal: %+v", gone)
	}
}

func TestWebSocketSendRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.RateLimitPerMinute = 2 })
	aliceToken, aliceID := env.register(t, "alice")
	_, bobID := env.register(t, "bob")
	env.befriend(t, aliceID, "bob")

	ctx := testContext(t)
	alice := env.dialAuthed(t, ctx, aliceToken)
	writeFrame(t, ctx, alice, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionConversation, FriendID: bobID})
	readEvent(t, ctx, alice, core.EventSnapshot.String())

	for i := 0; i < 3; i++ {
		writeFrame(t, ctx, alice, proto.InboundTypeSend, proto.SendData{FriendID: bobID, Text: "spam"})
	}

	added := 0
	for {
		out := readFrame(t, ctx, alice)
		if out.Type == proto.OutboundTypeError {
			if out.Error.Code != core.ErrCodeRateLimited {
				t.Fatalf("expected rate_limited, got %+v", out.Error)
			}
			break
		}
		if out.Event == core.EventMessageAdded.String() {
			added++
		}
	}
	if added > 2 {
		t.Fatalf("expected at most 2 accepted messages before the limit, got %d", added)
	}
}

func TestFriendsStreamSSE(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceToken, aliceID := env.register(t, "alice")
	env.register(t, "bob")
	env.befriend(t, aliceID, "bob")

	ctx := testContext(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/friends/stream?access_token="+aliceToken, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = v
			break
		}
	}
	if event != core.EventSnapshot.String() {
		t.Fatalf("expected snapshot event, got %q", event)
	}

	var out struct {
		Data proto.FriendsSnapshot `json:"data"`
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		t.Fatalf("decode sse data %q: %v", data, err)
	}
	if len(out.Data.Friends) != 1 || out.Data.Friends[0].Username != "bob" {
		t.Fatalf("unexpected snapshot: %+v", out.Data)
	}
}

func TestConversationStreamRequiresFriendship(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.register(t, "alice")
	_, bobID := env.register(t, "bob")

	resp := env.do(t, http.MethodGet, "/api/conversations/"+itoa(bobID)+"/stream", token, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestWebSocketSecondHelloIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.register(t, "alice")
	ctx := testContext(t)
	conn := env.dialAuthed(t, ctx, token)

	writeFrame(t, ctx, conn, proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})
	out := readFrame(t, ctx, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", out)
	}

	// the connection stays usable
	writeFrame(t, ctx, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionFriends})
	readEvent(t, ctx, conn, core.EventSnapshot.String())
}

func TestWebSocketOversizeFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.MaxMessageBytes = 1024 })
	token, aliceID := env.register(t, "alice")
	_, bobID := env.register(t, "bob")
	env.befriend(t, aliceID, "bob")
	ctx := testContext(t)
	conn := env.dialAuthed(t, ctx, token)

	writeFrame(t, ctx, conn, proto.InboundTypeSend, proto.SendData{FriendID: bobID, Text: strings.Repeat("x", 2000)})

	var next wireOutbound
	err := readNext(ctx, conn, &next)
	if websocket.CloseStatus(err) != websocket.StatusMessageTooBig {
		t.Fatalf("expected message too big close, got %v (frame %+v)", err, next)
	}

	msgs, err := env.chat.History(ctx, aliceID, bobID, 10, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("oversize frame must not be stored, got %d messages", len(msgs))
	}
}

func TestWebSocketUnfriendEndsConversationSubscription(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceToken, aliceID := env.register(t, "alice")
	_, bobID := env.register(t, "bob")
	env.befriend(t, aliceID, "bob")
	ctx := testContext(t)
	conn := env.dialAuthed(t, ctx, aliceToken)

	writeFrame(t, ctx, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionConversation, FriendID: bobID})
	readEvent(t, ctx, conn, core.EventSnapshot.String())

	if err := env.friends.Remove(ctx, bobID, aliceID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out := readFrame(t, ctx, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != core.ErrCodeNotFriends || out.Topic == "" {
		t.Fatalf("expected not_friends error for the conversation, got %+v", out)
	}

	// re-subscribing is allowed by the hub but refused by the friendship check
	writeFrame(t, ctx, conn, proto.InboundTypeSubscribe, proto.SubscribeData{Kind: proto.SubscriptionConversation, FriendID: bobID})
	out = readFrame(t, ctx, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != core.ErrCodeNotFriends {
		t.Fatalf("expected not_friends on resubscribe, got %+v", out)
	}
}
