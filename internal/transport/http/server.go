package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/auth"
	"github.com/vovakirdan/jobchat-server/internal/config"
	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/ratelimit"
	"github.com/vovakirdan/jobchat-server/internal/service/messaging"
	"github.com/vovakirdan/jobchat-server/internal/store"
)

// Deps are the collaborators the transport layer serves.
type Deps struct {
	Hub      *core.Hub
	Messages *messaging.Service
	Users    store.UserStore
	Limiter  ratelimit.Limiter
	// JWT is nil when no secret is configured.
	JWT *auth.JWTConfig
}

// Server bundles the HTTP server with the socket.io session loop it hosts.
type Server struct {
	HTTP     *http.Server
	SocketIO *SocketIO
}

// NewServer builds the HTTP server with health, realtime and REST routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	authn := NewAuthenticator(deps.JWT, cfg.JWTRequired)
	rt := &realtime{hub: deps.Hub, messages: deps.Messages, users: deps.Users, log: logger}
	sio := newSocketIO(deps.Hub, rt, authn, logger)

	router.GET("/health", healthHandler(deps.Hub))

	handlers := NewMessageHandlers(deps.Messages, logger)
	api := router.Group("/api")
	api.Use(AuthMiddleware(authn, logger))
	{
		api.POST("/messages", RateLimitMiddleware(limiter, logger), handlers.SendMessage)
		api.GET("/messages", handlers.ListMessages)
		api.POST("/messages/read", handlers.MarkRead)
		api.GET("/messages/:id", handlers.GetMessage)
		api.PUT("/messages/:id/read", handlers.MarkMessageRead)
	}

	// Upgrades bypass gin: its writer reports the 101 as written and refuses to hijack.
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, rt, authn, cfg.MaxMessageBytes, logger))
	mux.Handle("/socket.io/", sio)
	mux.Handle("/", router)

	return &Server{
		HTTP: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		SocketIO: sio,
	}
}

// HealthResponse reports liveness and hub occupancy.
type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

func healthHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		rooms, err := hub.Rooms(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "hub " + err.Error()})
			return
		}

		resp := HealthResponse{Status: "ok", Rooms: len(rooms)}
		for _, n := range rooms {
			resp.Connections += n
		}
		c.JSON(http.StatusOK, resp)
	}
}
