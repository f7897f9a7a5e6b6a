// Package routes wires the gateway's handlers onto a gin.Engine, mirroring
// the teacher's routes.SetupRoutes(router, deps...) shape (called from
// orchestrator.initRouter).
package routes

import (
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/handlers"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers every endpoint spec.md §4.H names onto router.
// /v1/models is reachable without auth (spec.md §4.H: "/v1/models may be
// permitted without auth depending on configuration"); every other
// endpoint passes through AuthMiddleware.
func SetupRoutes(router *gin.Engine, srv *gateway.Server) {
	auth := middleware.AuthMiddleware(srv.Config)

	router.GET("/v1/models", handlers.Models(srv))

	v1 := router.Group("/v1")
	v1.Use(auth)
	{
		v1.GET("/status", handlers.Status(srv))
		v1.GET("/config", handlers.GetConfig(srv))
		v1.POST("/config", handlers.PostConfig(srv))
		v1.POST("/completions", handlers.Completions(srv))
		v1.POST("/chat/completions", handlers.ChatCompletions(srv))
	}

	ws := router.Group("/ws")
	ws.Use(auth)
	{
		ws.GET("/completions", handlers.HandleCompletionsWebSocket(srv))
	}
}
