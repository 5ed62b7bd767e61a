package relay

import (
	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/chatrelay/log"
)

// RouterConfig wires the relay routes.
type RouterConfig struct {
	Forwarder *Forwarder
	Logger    *log.Logger
}

// NewRouter builds the relay engine.
//
// Routes:
//   - GET  /healthz
//   - POST /turn/send-message, POST /turn/create-chat-session
//   - POST /api/chat/send-message, POST /api/chat/create-chat-session (aliases)
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	router := gin.New()
	router.Use(RequestID(), RequestLogger(logger), Recovery(logger))
	router.Use(CORS(cfg.Forwarder.Config().ClientOrigin))

	router.GET("/healthz", Health)

	turn := router.Group("/turn")
	{
		turn.POST("/send-message", cfg.Forwarder.SendMessage)
		turn.POST("/create-chat-session", cfg.Forwarder.CreateChatSession)
	}

	api := router.Group("/api/chat")
	{
		api.POST("/send-message", cfg.Forwarder.SendMessage)
		api.POST("/create-chat-session", cfg.Forwarder.CreateChatSession)
	}

	return router
}
