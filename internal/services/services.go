package services

import (
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/config"
	"github.com/cutroom/backend/internal/history"
	"github.com/cutroom/backend/internal/orchestrator"
	"github.com/cutroom/backend/internal/storage"
)

// Services holds all application services
type Services struct {
	Project   *ProjectService
	Operation *OperationService
	Media     *MediaService
	Storage   *storage.Manager
	Config    *config.Config
	Logger    *zap.Logger
}

// NewServices creates a new services instance. hist may be nil.
func NewServices(storageManager *storage.Manager, orch *orchestrator.Orchestrator, hist *history.Store, cfg *config.Config, logger *zap.Logger) *Services {
	projects := NewProjectService(storageManager, logger)
	return &Services{
		Project:   projects,
		Operation: NewOperationService(orch, hist, projects, storageManager, logger),
		Media:     NewMediaService(orch),
		Storage:   storageManager,
		Config:    cfg,
		Logger:    logger,
	}
}
