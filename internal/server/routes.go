package server

import (
	"github.com/gin-gonic/gin"

	"github.com/juniorrony/torrenstream-sub000/internal/server/handlers"
)

// setupRoutes configures the base API routes; module routes register
// themselves through the module manager.
func setupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/health", handlers.HandleHealthCheck)
		api.GET("/health/system", handlers.HandleSystemStats)
		api.GET("/health/db", handlers.HandleDBStatus)
	}
}
