package models

import (
	"time"
)

type OperationType string

const (
	OperationTypeTrim         OperationType = "trim"
	OperationTypeMerge        OperationType = "merge"
	OperationTypeExtractAudio OperationType = "extract-audio"
	OperationTypeReplaceAudio OperationType = "replace-audio"
	OperationTypeRemoveAudio  OperationType = "remove-audio"
	OperationTypeThumbnail    OperationType = "generate-thumbnail"
	OperationTypeProbe        OperationType = "probe"
)

// OperationTypes lists every supported operation type
var OperationTypes = []OperationType{
	OperationTypeTrim,
	OperationTypeMerge,
	OperationTypeExtractAudio,
	OperationTypeReplaceAudio,
	OperationTypeRemoveAudio,
	OperationTypeThumbnail,
	OperationTypeProbe,
}

// ParseOperationType validates a raw operation type name
func ParseOperationType(s string) (OperationType, bool) {
	for _, t := range OperationTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type OperationState string

const (
	OperationStatePending   OperationState = "pending"
	OperationStateStarting  OperationState = "starting"
	OperationStateRunning   OperationState = "running"
	OperationStateCompleted OperationState = "completed"
	OperationStateFailed    OperationState = "failed"
	OperationStateCancelled OperationState = "cancelled"
)

func (s OperationState) rank() int {
	switch s {
	case OperationStatePending:
		return 0
	case OperationStateStarting:
		return 1
	case OperationStateRunning:
		return 2
	case OperationStateCompleted, OperationStateFailed, OperationStateCancelled:
		return 3
	}
	return -1
}

// Terminal reports whether no further transitions are possible
func (s OperationState) Terminal() bool {
	return s.rank() == 3
}

// CanTransition reports whether s -> next moves strictly forward.
// Any non-terminal state may jump to a terminal one.
func (s OperationState) CanTransition(next OperationState) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// Operation is the externally visible record of one logical request
type Operation struct {
	ID          string         `json:"id"`
	Type        OperationType  `json:"type"`
	State       OperationState `json:"state"`
	Progress    float64        `json:"progress"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	OutputPath  string         `json:"output_path,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

type ProgressStage string

const (
	StageStarted    ProgressStage = "started"
	StageProcessing ProgressStage = "processing"
	StageCompleted  ProgressStage = "completed"
	StageError      ProgressStage = "error"
	StageCancelled  ProgressStage = "cancelled"
)

// Terminal reports whether the stage ends an event stream
func (s ProgressStage) Terminal() bool {
	return s == StageCompleted || s == StageError || s == StageCancelled
}

// ProgressEvent is one entry of an operation's ordered event stream
type ProgressEvent struct {
	OperationID string        `json:"operation_id"`
	SegmentID   string        `json:"segment_id,omitempty"`
	Stage       ProgressStage `json:"stage"`
	Percent     float64       `json:"percent"`
	Timestamp   time.Time     `json:"timestamp"`
	FPS         float64       `json:"fps,omitempty"`
	Speed       float64       `json:"speed,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// Result is returned for a completed operation
type Result struct {
	Success      bool          `json:"success"`
	OperationID  string        `json:"operation_id"`
	Type         OperationType `json:"type"`
	OutputPath   string        `json:"output_path,omitempty"`
	Duration     float64       `json:"duration,omitempty"`
	SegmentCount int           `json:"segment_count,omitempty"`
	Format       string        `json:"format,omitempty"`
	Asset        *MediaAsset   `json:"asset,omitempty"`
}
