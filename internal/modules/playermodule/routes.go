package playermodule

import (
	"github.com/gin-gonic/gin"
)

// registerRoutes registers all playback controller routes
func registerRoutes(router *gin.Engine, handler *APIHandler) {
	playerGroup := router.Group("/api/player")
	{
		playerGroup.POST("/play", handler.HandlePlay)
		playerGroup.POST("/resume", handler.HandleResumeAt)
		playerGroup.POST("/restart", handler.HandleRestart)
		playerGroup.POST("/pause", handler.HandlePause)
		playerGroup.POST("/seek", handler.HandleSeek)
		playerGroup.PUT("/volume", handler.HandleSetVolume)
		playerGroup.PUT("/rate", handler.HandleSetRate)
		playerGroup.PUT("/quality", handler.HandleSetQuality)
		playerGroup.POST("/close", handler.HandleClose)
		playerGroup.POST("/event", handler.HandleMediaEvent)
		playerGroup.GET("/state", handler.HandleState)
		playerGroup.GET("/timeline", handler.HandleTimeline)
		playerGroup.GET("/ws", handler.observer.HandleWebSocket)
	}
}
