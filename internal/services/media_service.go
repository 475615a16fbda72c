package services

import (
	"context"

	"github.com/cutroom/backend/internal/filtergraph"
	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/orchestrator"
	"github.com/cutroom/backend/internal/profile"
)

// Presets lists what a request may name.
type Presets struct {
	Qualities   []profile.QualityPreset `json:"qualities"`
	Resolutions []profile.Resolution    `json:"resolutions"`
	Effects     []string                `json:"effects"`
	Operations  []models.OperationType  `json:"operations"`
}

// MediaService answers synchronous media queries.
type MediaService struct {
	orch *orchestrator.Orchestrator
}

func NewMediaService(orch *orchestrator.Orchestrator) *MediaService {
	return &MediaService{orch: orch}
}

func (s *MediaService) Probe(ctx context.Context, path string) (*models.MediaAsset, error) {
	return s.orch.Probe(ctx, path)
}

func (s *MediaService) Presets() Presets {
	return Presets{
		Qualities:   profile.Qualities(),
		Resolutions: profile.Resolutions(),
		Effects:     filtergraph.EffectTypes(),
		Operations:  models.OperationTypes,
	}
}

// Estimate predicts the output size of an encode. A zero bitrate takes the
// quality preset's.
func (s *MediaService) Estimate(quality string, bitrateMbps, durationMinutes float64) (profile.SizeEstimate, error) {
	if bitrateMbps == 0 {
		p, err := s.orch.Resolver().ResolveDefaults(quality, "", 0)
		if err != nil {
			return profile.SizeEstimate{}, err
		}
		bitrateMbps = p.BitrateMbps
	}
	return profile.EstimateSize(bitrateMbps, durationMinutes)
}
