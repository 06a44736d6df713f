package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/auth"
	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/proto"
	"github.com/vovakirdan/pairchat/internal/service/chat"
	"github.com/vovakirdan/pairchat/internal/service/friends"
	"github.com/vovakirdan/pairchat/internal/service/profile"
	"github.com/vovakirdan/pairchat/internal/store/sqlite"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	cfg     config.Config
	store   *sqlite.SQLiteStore
	auth    *auth.Service
	hub     *core.Hub
	friends *friends.Service
	chat    *chat.Service
	deps    Deps
	router  http.Handler
	ts      *httptest.Server
}

// newTestEnv wires the full HTTP stack over an in-memory store.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = testJWTSecret
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	cfg.AllowedOrigins = nil
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := core.NewHub(&logger)
	go hub.Run(ctx)

	profiles, err := profile.New(st, hub, profile.DefaultOptions(), &logger)
	if err != nil {
		t.Fatalf("failed to create profile service: %v", err)
	}
	t.Cleanup(profiles.Close)
	friendsService := friends.New(st, hub, &logger)
	chatService := chat.New(st, profiles, hub, &logger)

	deps := Deps{
		Hub:      hub,
		Auth:     authService,
		Store:    st,
		Profiles: profiles,
		Friends:  friendsService,
		Chat:     chatService,
	}
	router := NewRouter(deps, &cfg, &logger)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{
		cfg:     cfg,
		store:   st,
		auth:    authService,
		hub:     hub,
		friends: friendsService,
		chat:    chatService,
		deps:    deps,
		router:  router,
		ts:      ts,
	}
}

// register creates an account and returns its token and user ID.
func (e *testEnv) register(t *testing.T, username string) (string, int64) {
	t.Helper()

	ctx := context.Background()
	token, err := e.auth.Register(ctx, username+"@example.com", username, "password123", "password123")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	claims, err := e.auth.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("failed to validate token for %s: %v", username, err)
	}
	return token, claims.UserID
}

// befriend makes a and b friends.
func (e *testEnv) befriend(t *testing.T, a int64, bUsername string) {
	t.Helper()
	if _, err := e.friends.AddByUsername(context.Background(), a, bUsername); err != nil {
		t.Fatalf("failed to add friend %s: %v", bUsername, err)
	}
}

// do performs a JSON request against the router.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
}

// wireOutbound mirrors proto.Outbound with undecoded data.
type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wireOutbound {
	t.Helper()
	var out wireOutbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

// readEvent reads frames until one with the given event name arrives.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) wireOutbound {
	t.Helper()
	for {
		out := readFrame(t, ctx, conn)
		if out.Type == proto.OutboundTypeError {
			t.Fatalf("unexpected error while waiting for %s: %+v", event, out.Error)
		}
		if out.Event == event {
			return out
		}
	}
}

// dialAuthed opens a websocket, says hello and consumes the welcome event.
func (e *testEnv) dialAuthed(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	writeFrame(t, ctx, conn, proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})
	welcome := readFrame(t, ctx, conn)
	if welcome.Type != proto.OutboundTypeEvent || welcome.Event != proto.EventWelcome {
		t.Fatalf("expected welcome, got %+v", welcome)
	}
	return conn
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newBareRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
