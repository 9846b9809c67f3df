package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck-server/internal/auth"
	"github.com/crewdeck/crewdeck-server/internal/config"
	"github.com/crewdeck/crewdeck-server/internal/presence"
	"github.com/crewdeck/crewdeck-server/internal/store"
)

// NewServer builds the HTTP server with all routes wired.
func NewServer(
	registry *presence.Registry,
	arbiter *presence.Arbiter,
	authService *auth.Service,
	st store.Store,
	cfg config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	users := NewUserHandlers(authService, logger)
	statuses := NewStatusHandlers(arbiter, registry, st, logger)
	rooms := NewRoomHandlers(st, logger)
	ws := NewWSHandler(registry, arbiter, authService, st, logger)

	api := router.Group("/api")
	api.POST("/register", users.Register)
	api.POST("/login", users.Login)

	authed := api.Group("", AuthMiddleware(authService, logger))
	authed.PUT("/users/status", statuses.UpdateStatus)
	authed.GET("/users/online", statuses.OnlineUsers)
	authed.GET("/users/:id/status", statuses.GetUserStatus)
	authed.POST("/rooms", rooms.CreateRoom)
	authed.GET("/rooms", rooms.ListRooms)
	authed.GET("/rooms/:id/messages", rooms.ListMessages)

	// The socket authenticates itself (query token), so it sits outside the
	// bearer-header middleware.
	router.GET("/ws/:room_id", ws.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}
