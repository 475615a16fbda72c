package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/config"
	"github.com/cutroom/backend/internal/orchestrator"
	"github.com/cutroom/backend/internal/services"
)

// Version is reported by the info endpoint.
var Version = "dev"

type SystemHandler struct {
	config   *config.Config
	services *services.Services
	orch     *orchestrator.Orchestrator
	logger   *zap.Logger
}

func NewSystemHandler(cfg *config.Config, services *services.Services, orch *orchestrator.Orchestrator, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		config:   cfg,
		services: services,
		orch:     orch,
		logger:   logger,
	}
}

func (h *SystemHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":            "Cutroom Server",
		"version":         Version,
		"ffmpeg":          h.config.FFmpeg.Path,
		"ffprobe":         h.config.FFmpeg.ProbePath,
		"max_concurrency": h.orch.MaxConcurrency(),
		"history":         h.config.History.Enabled,
	})
}

// Overview reports the aggregate progress of all operations in memory.
func (h *SystemHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Overview())
}

// Cleanup drops finished operations and outputs older than the configured
// retention.
func (h *SystemHandler) Cleanup(c *gin.Context) {
	h.logger.Info("Running cleanup via API request")

	if err := h.services.Operation.Cleanup(c.Request.Context(), h.config.CleanupAge()); err != nil {
		respondError(c, h.logger, "failed to clean up", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cleanup finished"})
}
