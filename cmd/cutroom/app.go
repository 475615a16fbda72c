package main

import (
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/config"
	"github.com/cutroom/backend/internal/ffmpeg"
	"github.com/cutroom/backend/internal/history"
	"github.com/cutroom/backend/internal/orchestrator"
	"github.com/cutroom/backend/internal/profile"
	"github.com/cutroom/backend/internal/services"
	"github.com/cutroom/backend/internal/storage"
)

// app is the wired object graph shared by serve and run.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	storage  *storage.Manager
	engine   *ffmpeg.Executor
	history  *history.Store
	orch     *orchestrator.Orchestrator
	services *services.Services
}

func newApp(cfg *config.Config, logger *zap.Logger, sink orchestrator.EventSink) (*app, error) {
	m := storage.NewManager(cfg.Storage.BasePath, logger)
	if err := m.Initialize(); err != nil {
		return nil, err
	}

	engine := ffmpeg.NewExecutor(ffmpeg.Options{
		FFmpegPath:   cfg.FFmpeg.Path,
		FFprobePath:  cfg.FFmpeg.ProbePath,
		Threads:      cfg.FFmpeg.Threads,
		ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
	}, logger)

	opts := []orchestrator.Option{
		orchestrator.WithResolver(profile.NewResolver().WithDefaults(cfg.Encoding.DefaultQuality, cfg.Encoding.DefaultResolution)),
	}

	var hist *history.Store
	if cfg.History.Enabled {
		var err error
		if hist, err = history.Open(cfg.History.Path); err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithRecorder(hist))
	}

	orch := orchestrator.New(engine, storage.NewTempRegistry(m.TempDir(), logger), sink, logger, orchestrator.Config{
		MaxConcurrency: cfg.Orchestrator.MaxConcurrency,
		OutputDir:      m.OutputsDir(),
		KeepPartial:    cfg.Storage.KeepPartialOutput,
	}, opts...)

	return &app{
		cfg:      cfg,
		logger:   logger,
		storage:  m,
		engine:   engine,
		history:  hist,
		orch:     orch,
		services: services.NewServices(m, orch, hist, cfg, logger),
	}, nil
}

func (a *app) Close() error {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			return err
		}
	}
	return a.storage.Close()
}
