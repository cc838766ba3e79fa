package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/socialwire-server/internal/auth"
	"github.com/vovakirdan/socialwire-server/internal/config"
	"github.com/vovakirdan/socialwire-server/internal/core"
	"github.com/vovakirdan/socialwire-server/internal/feed"
	"github.com/vovakirdan/socialwire-server/internal/store"
)

// NewServer builds the HTTP server with all routes registered.
func NewServer(hub *core.Hub, verifier auth.Verifier, st store.Store, publisher *feed.Publisher, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	wsHandler := NewWSHandler(hub, verifier, logger)
	router.GET("/ws", gin.WrapH(wsHandler))

	sseHandler := NewSSEHandler(publisher, verifier, cfg.FeedHeartbeat, logger)
	router.GET("/api/feed/stream", sseHandler.Stream)

	apiHandlers := NewAPIHandlers(hub, st, publisher, logger)

	api := router.Group("/api")
	api.Use(AuthMiddleware(verifier, logger))
	{
		api.POST("/conversations", apiHandlers.CreateConversation)
		api.GET("/conversations", apiHandlers.ListConversations)
		api.GET("/conversations/:id/messages", apiHandlers.ListMessages)
		api.POST("/conversations/:id/read", apiHandlers.MarkAsRead)
		api.GET("/conversations/:id/unread", apiHandlers.UnreadCount)
		api.GET("/messages/search", apiHandlers.SearchMessages)
		api.GET("/users/search", apiHandlers.SearchUsers)
		api.GET("/users/:id/presence", apiHandlers.UserPresence)
		api.POST("/feed/posts", apiHandlers.PublishPost)
		api.PUT("/feed/posts/:id", apiHandlers.UpdatePost)
		api.DELETE("/feed/posts/:id", apiHandlers.DeletePost)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
