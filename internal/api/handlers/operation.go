package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/services"
)

// sseBuffer is how many events a slow SSE client may fall behind before
// its callback blocks.
const sseBuffer = 256

type OperationHandler struct {
	services *services.Services
	logger   *zap.Logger
}

func NewOperationHandler(services *services.Services, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{
		services: services,
		logger:   logger,
	}
}

// Submit starts an operation: {"type": "trim", "params": {...}}
func (h *OperationHandler) Submit(c *gin.Context) {
	var req struct {
		Type   string          `json:"type" binding:"required"`
		Params json.RawMessage `json:"params" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.services.Operation.Submit(c.Request.Context(), req.Type, req.Params)
	if err != nil {
		respondError(c, h.logger, "failed to submit operation", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *OperationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ops, err := h.services.Operation.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, "failed to list operations", err)
		return
	}
	c.JSON(http.StatusOK, ops)
}

// GetStatus returns the status of an operation
func (h *OperationHandler) GetStatus(c *gin.Context) {
	op, err := h.services.Operation.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to get operation", err)
		return
	}
	c.JSON(http.StatusOK, op)
}

// Result returns the outcome of a finished operation, or 202 with the
// current status while it runs.
func (h *OperationHandler) Result(c *gin.Context) {
	id := c.Param("id")
	op, err := h.services.Operation.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "failed to get operation", err)
		return
	}
	if !op.State.Terminal() {
		c.JSON(http.StatusAccepted, op)
		return
	}

	result, err := h.services.Operation.Wait(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "operation failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *OperationHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Operation.Cancel(id); err != nil {
		respondError(c, h.logger, "failed to cancel operation", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "cancellation requested", "id": id})
}

// Events streams the operation's progress events as server-sent events,
// starting with those already emitted and ending after the terminal one.
func (h *OperationHandler) Events(c *gin.Context) {
	events := make(chan models.ProgressEvent, sseBuffer)
	gone := make(chan struct{})
	defer close(gone)

	unsubscribe, err := h.services.Operation.Subscribe(c.Param("id"), func(ev models.ProgressEvent) {
		select {
		case events <- ev:
		case <-gone:
		}
	})
	if err != nil {
		respondError(c, h.logger, "failed to subscribe", err)
		return
	}
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent(string(ev.Stage), ev)
			return !ev.Stage.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}
