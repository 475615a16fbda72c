package models

import (
	"time"
)

// Project is the persisted editing document
type Project struct {
	ID          string       `json:"id" yaml:"id" toml:"id"`
	Name        string       `json:"name" yaml:"name" toml:"name"`
	Assets      []AssetRef   `json:"assets,omitempty" yaml:"assets,omitempty" toml:"assets,omitempty"`
	Segments    []Segment    `json:"segments" yaml:"segments" toml:"segments"`
	Transitions []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty" toml:"transitions,omitempty"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at" toml:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" yaml:"updated_at" toml:"updated_at"`
}

// AssetRef points a project at a source file
type AssetRef struct {
	ID    string    `json:"id" yaml:"id" toml:"id"`
	Path  string    `json:"path" yaml:"path" toml:"path"`
	Kind  MediaKind `json:"kind" yaml:"kind" toml:"kind"`
	Label string    `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
}

// ExportRequest renders a project through a merge operation
type ExportRequest struct {
	Output      string   `json:"output,omitempty"`
	SegmentIDs  []string `json:"segment_ids,omitempty"` // If empty, export all
	Quality     string   `json:"quality,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	BitrateMbps float64  `json:"bitrate_mbps,omitempty"`
}
