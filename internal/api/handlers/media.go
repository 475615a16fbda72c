package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/services"
)

type MediaHandler struct {
	services *services.Services
	logger   *zap.Logger
}

func NewMediaHandler(services *services.Services, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		services: services,
		logger:   logger,
	}
}

// Probe describes the file named by ?path=
func (h *MediaHandler) Probe(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	asset, err := h.services.Media.Probe(c.Request.Context(), path)
	if err != nil {
		respondError(c, h.logger, "failed to probe media", err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (h *MediaHandler) Presets(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Media.Presets())
}

// Estimate predicts an output size: ?quality=high&minutes=90 or
// ?bitrate=8&minutes=90
func (h *MediaHandler) Estimate(c *gin.Context) {
	minutes, err := strconv.ParseFloat(c.Query("minutes"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a number"})
		return
	}
	bitrate := 0.0
	if raw := c.Query("bitrate"); raw != "" {
		if bitrate, err = strconv.ParseFloat(raw, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bitrate must be a number"})
			return
		}
	}

	estimate, err := h.services.Media.Estimate(c.Query("quality"), bitrate, minutes)
	if err != nil {
		respondError(c, h.logger, "failed to estimate size", err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}
