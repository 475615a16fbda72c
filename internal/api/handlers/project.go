package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/services"
)

type ProjectHandler struct {
	services *services.Services
	logger   *zap.Logger
}

func NewProjectHandler(services *services.Services, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		services: services,
		logger:   logger,
	}
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req struct {
		Name   string            `json:"name" binding:"required"`
		Assets []models.AssetRef `json:"assets"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.services.Project.Create(req.Name, req.Assets)
	if err != nil {
		respondError(c, h.logger, "failed to create project", err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.services.Project.List()
	if err != nil {
		respondError(c, h.logger, "failed to list projects", err)
		return
	}

	c.JSON(http.StatusOK, projects)
}

func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.services.Project.Get(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to get project", err)
		return
	}

	c.JSON(http.StatusOK, project)
}

func (h *ProjectHandler) Update(c *gin.Context) {
	id := c.Param("id")

	existing, err := h.services.Project.Get(id)
	if err != nil {
		respondError(c, h.logger, "failed to get project", err)
		return
	}

	var project models.Project
	if err := c.ShouldBindJSON(&project); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project.ID = id
	project.CreatedAt = existing.CreatedAt
	if err := h.services.Project.Save(&project); err != nil {
		respondError(c, h.logger, "failed to update project", err)
		return
	}

	c.JSON(http.StatusOK, project)
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.services.Project.Delete(c.Param("id")); err != nil {
		respondError(c, h.logger, "failed to delete project", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "project deleted"})
}

// Export renders the project through a merge operation.
func (h *ProjectHandler) Export(c *gin.Context) {
	var req models.ExportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	id, err := h.services.Operation.ExportProject(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, "failed to export project", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *ProjectHandler) AddSegment(c *gin.Context) {
	var segment models.Segment
	if err := c.ShouldBindJSON(&segment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.services.Project.AddSegment(c.Param("id"), segment)
	if err != nil {
		respondError(c, h.logger, "failed to add segment", err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

func (h *ProjectHandler) UpdateSegment(c *gin.Context) {
	var updates models.Segment
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.services.Project.UpdateSegment(c.Param("id"), c.Param("segmentId"), updates)
	if err != nil {
		respondError(c, h.logger, "failed to update segment", err)
		return
	}

	c.JSON(http.StatusOK, project)
}

func (h *ProjectHandler) DeleteSegment(c *gin.Context) {
	project, err := h.services.Project.DeleteSegment(c.Param("id"), c.Param("segmentId"))
	if err != nil {
		respondError(c, h.logger, "failed to delete segment", err)
		return
	}

	c.JSON(http.StatusOK, project)
}
