package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/history"
	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/orchestrator"
	"github.com/cutroom/backend/internal/storage"
)

type OperationService struct {
	orch     *orchestrator.Orchestrator
	history  *history.Store
	projects *ProjectService
	storage  *storage.Manager
	logger   *zap.Logger
}

// NewOperationService wires the operation API to an orchestrator. history
// may be nil, in which case only operations still in memory are visible.
func NewOperationService(orch *orchestrator.Orchestrator, hist *history.Store, projects *ProjectService, storage *storage.Manager, logger *zap.Logger) *OperationService {
	return &OperationService{
		orch:     orch,
		history:  hist,
		projects: projects,
		storage:  storage,
		logger:   logger,
	}
}

// DecodeParams parses raw JSON parameters into the struct of typ. Unknown
// fields are rejected.
func DecodeParams(typ models.OperationType, raw json.RawMessage) (any, error) {
	var params any
	switch typ {
	case models.OperationTypeTrim:
		params = &models.TrimParams{}
	case models.OperationTypeMerge:
		params = &models.MergeParams{}
	case models.OperationTypeExtractAudio:
		params = &models.ExtractAudioParams{}
	case models.OperationTypeReplaceAudio:
		params = &models.ReplaceAudioParams{}
	case models.OperationTypeRemoveAudio:
		params = &models.RemoveAudioParams{}
	case models.OperationTypeThumbnail:
		params = &models.ThumbnailParams{}
	case models.OperationTypeProbe:
		params = &models.ProbeParams{}
	default:
		return nil, apperr.Validationf("unknown operation type %q", typ)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperr.Validationf("parameters are required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid %s parameters", typ)
	}
	return params, nil
}

// Submit starts an operation from its type name and raw parameters.
func (s *OperationService) Submit(ctx context.Context, typeName string, raw json.RawMessage) (string, error) {
	typ, ok := models.ParseOperationType(typeName)
	if !ok {
		return "", apperr.Validationf("unknown operation type %q", typeName)
	}
	params, err := DecodeParams(typ, raw)
	if err != nil {
		return "", err
	}
	return s.orch.Submit(ctx, typ, params)
}

// Get returns a live operation, or a recorded one once it has been
// forgotten in memory.
func (s *OperationService) Get(ctx context.Context, id string) (models.Operation, error) {
	op, err := s.orch.Get(id)
	if err == nil || s.history == nil || !errors.Is(err, apperr.NotFound) {
		return op, err
	}
	return s.history.Get(ctx, id)
}

// List returns live and recorded operations, newest first.
func (s *OperationService) List(ctx context.Context, limit int) ([]models.Operation, error) {
	live := s.orch.List()
	seen := make(map[string]bool, len(live))
	ops := make([]models.Operation, 0, len(live))
	for _, op := range live {
		seen[op.ID] = true
		ops = append(ops, op)
	}

	if s.history != nil {
		recorded, err := s.history.List(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, op := range recorded {
			if !seen[op.ID] {
				ops = append(ops, op)
			}
		}
	}

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].CreatedAt.After(ops[j].CreatedAt) })
	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

func (s *OperationService) Cancel(id string) error {
	return s.orch.Cancel(id)
}

func (s *OperationService) Wait(ctx context.Context, id string) (*models.Result, error) {
	return s.orch.Wait(ctx, id)
}

func (s *OperationService) Subscribe(id string, cb func(models.ProgressEvent)) (func(), error) {
	return s.orch.Subscribe(id, cb)
}

// ExportProject renders a stored project through a merge operation.
func (s *OperationService) ExportProject(ctx context.Context, projectID string, req models.ExportRequest) (string, error) {
	project, err := s.projects.Get(projectID)
	if err != nil {
		return "", err
	}

	params, err := ExportParams(project, req)
	if err != nil {
		return "", err
	}
	if params.Output != "" && filepath.Base(params.Output) == params.Output {
		params.Output = s.storage.GetOutputPath(params.Output)
	}

	id, err := s.orch.Submit(ctx, models.OperationTypeMerge, params)
	if err != nil {
		return "", err
	}
	s.logger.Info("Exporting project",
		zap.String("project_id", projectID),
		zap.String("operation_id", id),
		zap.Int("segments", len(params.Segments)),
	)
	return id, nil
}

// ExportParams builds the merge request for a project. Transitions apply
// only when every segment is exported.
func ExportParams(project *models.Project, req models.ExportRequest) (models.MergeParams, error) {
	segments := project.Segments
	if len(req.SegmentIDs) > 0 {
		byID := make(map[string]models.Segment, len(project.Segments))
		for _, seg := range project.Segments {
			byID[seg.ID] = seg
		}
		segments = make([]models.Segment, 0, len(req.SegmentIDs))
		for _, id := range req.SegmentIDs {
			seg, ok := byID[id]
			if !ok {
				return models.MergeParams{}, apperr.New(apperr.KindNotFound, "segment not found: %s", id)
			}
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return models.MergeParams{}, apperr.Validationf("project %s has no segments to export", project.ID)
	}

	params := models.MergeParams{
		Segments:    segments,
		Output:      req.Output,
		Quality:     req.Quality,
		Resolution:  req.Resolution,
		BitrateMbps: req.BitrateMbps,
	}
	if len(segments) == len(project.Segments) {
		params.Transitions = project.Transitions
	}
	return params, nil
}

// Cleanup drops operations finished more than maxAge ago from memory and
// history and removes output files older than maxAge.
func (s *OperationService) Cleanup(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	forgotten := s.orch.Forget(cutoff)

	var pruned int64
	if s.history != nil {
		var err error
		if pruned, err = s.history.Prune(ctx, cutoff); err != nil {
			return err
		}
	}
	removed, err := s.storage.CleanupOutputs(maxAge)
	if err != nil {
		return err
	}

	s.logger.Info("Cleanup finished",
		zap.Int("forgotten", forgotten),
		zap.Int64("pruned", pruned),
		zap.Int("outputs_removed", removed),
	)
	return nil
}
