package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soletrade/livechat/internal/common"
	"github.com/soletrade/livechat/internal/httpapi/handlers"
	"github.com/soletrade/livechat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	api := r.Group("/api/chat")
	api.POST("/conversations/start", h.StartConversation)
	api.PUT("/conversations/:id/resolve", h.ResolveConversation)
	api.GET("/conversations/:id/messages", h.ListConversationMessages)

	// bidirectional channel for the chat widget and the admin console
	r.GET("/ws", h.ChatSocket)

	return r
}
