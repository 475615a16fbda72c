package api

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/api/handlers"
	"github.com/cutroom/backend/internal/api/middleware"
	"github.com/cutroom/backend/internal/config"
	"github.com/cutroom/backend/internal/orchestrator"
	"github.com/cutroom/backend/internal/services"
)

func NewRouter(services *services.Services, orch *orchestrator.Orchestrator, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CorsOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		system := api.Group("/system")
		{
			systemHandler := handlers.NewSystemHandler(cfg, services, orch, logger)
			system.GET("/info", systemHandler.Info)
			system.GET("/overview", systemHandler.Overview)
			system.POST("/cleanup", systemHandler.Cleanup)
		}

		media := api.Group("/media")
		{
			mediaHandler := handlers.NewMediaHandler(services, logger)
			media.GET("/probe", mediaHandler.Probe)
			media.GET("/presets", mediaHandler.Presets)
			media.GET("/estimate", mediaHandler.Estimate)
		}

		projects := api.Group("/projects")
		{
			projectHandler := handlers.NewProjectHandler(services, logger)
			projects.POST("", projectHandler.Create)
			projects.GET("", projectHandler.List)
			projects.GET("/:id", projectHandler.Get)
			projects.PUT("/:id", projectHandler.Update)
			projects.DELETE("/:id", projectHandler.Delete)
			projects.POST("/:id/export", projectHandler.Export)

			segments := projects.Group("/:id/segments")
			{
				segments.POST("", projectHandler.AddSegment)
				segments.PUT("/:segmentId", projectHandler.UpdateSegment)
				segments.DELETE("/:segmentId", projectHandler.DeleteSegment)
			}
		}

		operations := api.Group("/operations")
		{
			operationHandler := handlers.NewOperationHandler(services, logger)
			operations.POST("", operationHandler.Submit)
			operations.GET("", operationHandler.List)
			operations.GET("/:id", operationHandler.GetStatus)
			operations.GET("/:id/result", operationHandler.Result)
			operations.GET("/:id/events", operationHandler.Events)
			operations.POST("/:id/cancel", operationHandler.Cancel)
		}

		api.GET("/outputs/:filename", func(c *gin.Context) {
			filename := filepath.Base(c.Param("filename"))
			path := services.Storage.GetOutputPath(filename)

			if !services.Storage.FileExists(path) {
				logger.Warn("Output file not found", zap.String("filename", filename))
				c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
				return
			}

			c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
			c.Header("Cache-Control", "public, max-age=3600")
			c.Header("X-Content-Type-Options", "nosniff")
			c.File(path)
		})
	}

	return router
}
