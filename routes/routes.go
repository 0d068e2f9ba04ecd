package routes

import (
	"github.com/06benste/schoolmasterVLE-sub001/controllers"
	"github.com/06benste/schoolmasterVLE-sub001/middleware"
	"github.com/06benste/schoolmasterVLE-sub001/models"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "SchoolMaster API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// Admin-only surface
			admin := protected.Group("/admin", middleware.RequireRole(models.RoleAdmin))
			{
				// Bulk user import jobs
				imports := admin.Group("/import/users")
				{
					imports.POST("", controllers.ImportUsers)
					imports.GET("/template", controllers.DownloadImportTemplate)
					imports.GET("/jobs/:id", controllers.GetImportJob)
					imports.POST("/jobs/:id/cancel", controllers.CancelImportJob)
					imports.GET("/jobs/:id/credentials", controllers.DownloadImportCredentials)
				}

				// Read-only exports
				admin.GET("/export/users", controllers.ExportUsers)
			}
		}
	}
}
