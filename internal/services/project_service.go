package services

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/filtergraph"
	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/storage"
)

type ProjectService struct {
	storage *storage.Manager
	logger  *zap.Logger
}

func NewProjectService(storage *storage.Manager, logger *zap.Logger) *ProjectService {
	return &ProjectService{
		storage: storage,
		logger:  logger,
	}
}

func (s *ProjectService) Create(name string, assets []models.AssetRef) (*models.Project, error) {
	if name == "" {
		return nil, apperr.Validationf("project name is required")
	}
	for i := range assets {
		if err := checkAsset(&assets[i]); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	project := &models.Project{
		ID:        uuid.New().String(),
		Name:      name,
		Assets:    assets,
		Segments:  []models.Segment{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.write(project); err != nil {
		return nil, err
	}

	s.logger.Info("Created project", zap.String("id", project.ID), zap.String("name", name))
	return project, nil
}

func (s *ProjectService) Get(id string) (*models.Project, error) {
	data, err := s.storage.ReadProject(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, "project not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	return DecodeProject(data, FormatJSON)
}

func (s *ProjectService) List() ([]*models.Project, error) {
	ids, err := s.storage.ListProjectIDs()
	if err != nil {
		return nil, err
	}

	projects := make([]*models.Project, 0, len(ids))
	for _, id := range ids {
		project, err := s.Get(id)
		if err != nil {
			s.logger.Warn("Failed to load project", zap.String("id", id), zap.Error(err))
			continue
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// Save validates and stores a project, bumping UpdatedAt.
func (s *ProjectService) Save(project *models.Project) error {
	if project.ID == "" {
		return apperr.Validationf("project id is required")
	}
	if err := checkProject(project); err != nil {
		return err
	}
	project.UpdatedAt = time.Now()
	return s.write(project)
}

func (s *ProjectService) write(project *models.Project) error {
	data, err := EncodeProject(project, FormatJSON)
	if err != nil {
		return err
	}
	return s.storage.WriteProject(project.ID, data)
}

func (s *ProjectService) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if err := s.storage.DeleteProject(id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	s.logger.Info("Deleted project", zap.String("id", id))
	return nil
}

func (s *ProjectService) AddSegment(projectID string, segment models.Segment) (*models.Project, error) {
	project, err := s.Get(projectID)
	if err != nil {
		return nil, err
	}

	if segment.ID == "" {
		segment.ID = uuid.New().String()
	}
	for _, seg := range project.Segments {
		if seg.ID == segment.ID {
			return nil, apperr.Validationf("segment %s already exists", segment.ID)
		}
	}

	project.Segments = append(project.Segments, segment)
	return project, s.Save(project)
}

func (s *ProjectService) UpdateSegment(projectID string, segmentID string, updates models.Segment) (*models.Project, error) {
	project, err := s.Get(projectID)
	if err != nil {
		return nil, err
	}

	found := false
	for i, seg := range project.Segments {
		if seg.ID == segmentID {
			// Preserve ID
			updates.ID = segmentID
			project.Segments[i] = updates
			found = true
			break
		}
	}

	if !found {
		return nil, apperr.New(apperr.KindNotFound, "segment not found: %s", segmentID)
	}

	return project, s.Save(project)
}

func (s *ProjectService) DeleteSegment(projectID string, segmentID string) (*models.Project, error) {
	project, err := s.Get(projectID)
	if err != nil {
		return nil, err
	}

	segments := make([]models.Segment, 0, len(project.Segments))
	for _, seg := range project.Segments {
		if seg.ID != segmentID {
			segments = append(segments, seg)
		}
	}
	if len(segments) == len(project.Segments) {
		return nil, apperr.New(apperr.KindNotFound, "segment not found: %s", segmentID)
	}

	project.Segments = segments
	// A transition list that no longer fits is dropped rather than guessed.
	if len(project.Transitions) != 0 && len(project.Transitions) != len(segments)-1 {
		project.Transitions = nil
	}
	return project, s.Save(project)
}

// Import reads a project file in any supported format and stores it under
// a fresh id.
func (s *ProjectService) Import(path string) (*models.Project, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "read project file")
	}
	project, err := DecodeProject(data, format)
	if err != nil {
		return nil, err
	}

	project.ID = uuid.New().String()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	if err := s.Save(project); err != nil {
		return nil, err
	}
	s.logger.Info("Imported project", zap.String("id", project.ID), zap.String("path", path))
	return project, nil
}

// Export writes a stored project to path in the format its extension names.
func (s *ProjectService) Export(id, path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	project, err := s.Get(id)
	if err != nil {
		return err
	}
	data, err := EncodeProject(project, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}
	return nil
}

func checkAsset(a *models.AssetRef) error {
	if a.Path == "" {
		return apperr.Validationf("asset path is required")
	}
	kind, ok := models.KindOfPath(a.Path)
	if !ok {
		return apperr.Validationf("asset %q: unsupported file type", a.Path)
	}
	if a.Kind == "" {
		a.Kind = kind
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// checkProject rejects documents that could never be exported.
func checkProject(p *models.Project) error {
	if p.Name == "" {
		return apperr.Validationf("project name is required")
	}
	for i := range p.Assets {
		if err := checkAsset(&p.Assets[i]); err != nil {
			return err
		}
	}
	for _, seg := range p.Segments {
		if seg.Source == "" {
			return &apperr.Error{Kind: apperr.KindValidation, SegmentID: seg.ID, Message: "segment source is required"}
		}
		if seg.Start < 0 || seg.End <= seg.Start {
			return &apperr.Error{Kind: apperr.KindValidation, SegmentID: seg.ID,
				Message: fmt.Sprintf("invalid range [%v, %v)", seg.Start, seg.End)}
		}
		for _, e := range seg.Effects {
			if err := filtergraph.ValidateEffect(e); err != nil {
				return apperr.WithSegment(err, seg.ID)
			}
		}
	}
	if n := len(p.Transitions); n != 0 && n != len(p.Segments)-1 {
		return apperr.Compositionf("got %d transitions for %d segments", n, len(p.Segments))
	}
	return nil
}
