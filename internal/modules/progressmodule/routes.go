package progressmodule

import (
	"github.com/gin-gonic/gin"
)

// registerRoutes registers all watch-progress routes
func registerRoutes(router *gin.Engine, handler *APIHandler) {
	progressGroup := router.Group("/api/progress")
	{
		progressGroup.POST("/", handler.HandleSaveProgress)
		progressGroup.GET("/resume/:mediaId", handler.HandleResumeDecision)
		progressGroup.GET("/continue-watching", handler.HandleContinueWatching)
		progressGroup.POST("/:mediaId/complete", handler.HandleMarkCompleted)
		progressGroup.DELETE("/:mediaId", handler.HandleDelete)
		progressGroup.POST("/flush", handler.HandleFlush)
		progressGroup.GET("/status", handler.HandleStatus)
	}
}
