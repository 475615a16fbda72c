package profile

import (
	"fmt"
	"math"

	"github.com/cutroom/backend/internal/apperr"
)

// SizeEstimate is the predicted output size of an encode
type SizeEstimate struct {
	MB        float64 `json:"mb"`
	GB        string  `json:"gb"`
	Formatted string  `json:"formatted"`
}

// EstimateSize predicts the output size for a constant bitrate over a
// duration given in minutes. Sizes below 1024 MB are reported in MB.
func EstimateSize(bitrateMbps, durationMinutes float64) (SizeEstimate, error) {
	if bitrateMbps <= 0 || math.IsNaN(bitrateMbps) || math.IsInf(bitrateMbps, 0) {
		return SizeEstimate{}, apperr.Validationf("bitrate must be > 0, got %v", bitrateMbps)
	}
	if durationMinutes < 0 || math.IsNaN(durationMinutes) || math.IsInf(durationMinutes, 0) {
		return SizeEstimate{}, apperr.Validationf("duration must be >= 0, got %v", durationMinutes)
	}

	mb := math.Round(bitrateMbps * durationMinutes * 60 / 8)
	gb := fmt.Sprintf("%.2f", mb/1024)

	formatted := fmt.Sprintf("%.0f MB", mb)
	if mb >= 1024 {
		formatted = gb + " GB"
	}

	return SizeEstimate{MB: mb, GB: gb, Formatted: formatted}, nil
}
