package streamingmodule

import (
	"github.com/gin-gonic/gin"
)

// registerRoutes registers all adaptive-session routes
func registerRoutes(router *gin.Engine, handler *APIHandler) {
	sessionGroup := router.Group("/api/session")
	{
		sessionGroup.GET("/", handler.HandleCurrentSession)
		sessionGroup.PUT("/quality", handler.HandleSetQuality)
		sessionGroup.POST("/sample", handler.HandleRecordSample)
		sessionGroup.POST("/stats", handler.HandleUpdateStats)
	}
}
