package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/archive"
	"github.com/marketchat/marketchat-server/internal/auth"
	"github.com/marketchat/marketchat-server/internal/chat"
	"github.com/marketchat/marketchat-server/internal/config"
	"github.com/marketchat/marketchat-server/internal/core"
)

// NewServer builds the HTTP server: REST chat endpoints, archive admin
// endpoints, the WebSocket upgrade route, and a health probe.
func NewServer(cfg config.Config, svc *chat.Service, archiver *archive.Archiver, registry *core.Registry, jwtCfg *auth.JWTConfig, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	chatHandlers := NewChatHandlers(svc, logger)
	api := router.Group("/api", AuthMiddleware(jwtCfg, logger))
	api.GET("/conversations", chatHandlers.ListConversations)
	api.POST("/conversations", chatHandlers.CreateConversation)
	api.GET("/conversations/:id/messages", chatHandlers.ListMessages)
	api.POST("/conversations/:id/messages", chatHandlers.SendMessage)
	api.PUT("/conversations/:id/messages/:msgID/read", chatHandlers.MarkMessageRead)
	api.PUT("/conversations/:id/read", chatHandlers.MarkConversationRead)
	api.GET("/unread-count", chatHandlers.UnreadCount)

	archiveHandlers := NewArchiveHandlers(archiver, logger)
	admin := router.Group("/api/admin", AdminMiddleware(cfg.AdminToken))
	admin.GET("/archive/stats", archiveHandlers.Stats)
	admin.POST("/archive", archiveHandlers.Run)
	admin.POST("/archive/restore", archiveHandlers.Restore)

	wsHandler := NewWSHandler(svc, registry, jwtCfg, logger)
	router.GET("/ws", gin.WrapH(wsHandler))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
