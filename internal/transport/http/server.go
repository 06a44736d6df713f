package http

import (
	"context"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/auth"
	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/metrics"
	"github.com/vovakirdan/pairchat/internal/service/chat"
	"github.com/vovakirdan/pairchat/internal/service/friends"
	"github.com/vovakirdan/pairchat/internal/service/profile"
	"github.com/vovakirdan/pairchat/internal/store"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Hub      *core.Hub
	Auth     *auth.Service
	OIDC     OIDCFlow // nil when OIDC sign-in is disabled
	Store    store.Store
	Profiles *profile.Service
	Friends  *friends.Service
	Chat     *chat.Service

	// Shutdown is closed when the server starts shutting down; live
	// streams end when it fires. NewServer sets it.
	Shutdown <-chan struct{}
}

// NewServer builds the HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	shutdown := make(chan struct{})
	deps.Shutdown = shutdown

	srv := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	// SSE streams are in-flight requests that Shutdown waits on.
	srv.RegisterOnShutdown(sync.OnceFunc(func() { close(shutdown) }))
	return srv
}

// NewRouter builds the gin engine serving the REST API, live streams and /ws.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(metrics.Middleware())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	live := &liveQueries{hub: deps.Hub, friends: deps.Friends, chat: deps.Chat}

	apiHandlers := NewAPIHandlers(deps.Auth, deps.OIDC, logger)
	profileHandlers := NewProfileHandlers(deps.Profiles, deps.Store, cfg.PhotoMaxUploadBytes, logger)
	friendsHandlers := NewFriendsHandlers(deps.Friends, logger)
	messageHandlers := NewMessageHandlers(deps.Chat, logger)
	streamHandlers := NewStreamHandlers(deps.Hub, live, cfg.SSEKeepAlive, deps.Shutdown, logger)
	wsHandler := NewWSHandler(deps.Hub, deps.Auth, live, deps.Chat, cfg, deps.Shutdown, logger)

	r.GET("/health", healthHandler(deps.Store))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", gin.WrapH(wsHandler))

	api := r.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)
		api.GET("/oidc/login", apiHandlers.OIDCLogin)
		api.GET("/oidc/callback", apiHandlers.OIDCCallback)

		protected := api.Group("")
		protected.Use(AuthMiddleware(deps.Auth, logger))
		{
			protected.POST("/logout", apiHandlers.Logout)

			protected.GET("/me", profileHandlers.Me)
			protected.GET("/profile", profileHandlers.GetOwn)
			protected.PUT("/profile", profileHandlers.UpdateOwn)
			protected.GET("/users/search", profileHandlers.SearchUsers)
			protected.GET("/users/:id/profile", profileHandlers.GetUserProfile)

			protected.GET("/friends", friendsHandlers.ListFriends)
			protected.POST("/friends", friendsHandlers.AddFriend)
			protected.DELETE("/friends/:userId", friendsHandlers.RemoveFriend)
			protected.GET("/friends/stream", streamHandlers.FriendsStream)

			protected.GET("/conversations/:friendId/messages", messageHandlers.History)
			protected.POST("/conversations/:friendId/messages", messageHandlers.Send)
			protected.GET("/conversations/:friendId/stream", streamHandlers.ConversationStream)
			protected.DELETE("/messages/:id", messageHandlers.Delete)
		}
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		AllowWildcard: true,
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cc
}

func healthHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			c.String(stdhttp.StatusServiceUnavailable, "database unavailable")
			return
		}
		c.String(stdhttp.StatusOK, "ok")
	}
}
