package index

import (
	"fmt"
	"time"

	"audiobatch/internal/artifact"
)

// Status represents the lifecycle of a batch.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// ParseStatus validates a raw status string.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	for _, candidate := range allStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown batch status %q", value)
}

// Terminal reports whether the status permits no further automatic
// transitions. Failed batches leave terminal state only through an explicit
// reprocess.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority selects the queue lane a batch is processed on.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityImmediate Priority = "immediate"
)

// ParsePriority validates a raw priority string, defaulting to normal when
// empty.
func ParsePriority(value string) (Priority, error) {
	switch Priority(value) {
	case "":
		return PriorityNormal, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityImmediate:
		return PriorityImmediate, nil
	}
	return "", fmt.Errorf("unknown priority %q", value)
}

// Metrics carries processing measurements persisted on the batch row.
type Metrics struct {
	RawAudioDurationSeconds   float64
	SpeechDurationSeconds     float64
	SpeechRatio               float64
	RawAudioSizeBytes         int64
	CleanedAudioSizeBytes     int64
	ASRJobID                  string
	ASRCostEstimate           float64
	ProcessingWallTimeSeconds float64
	QueueWaitSeconds          float64
}

// Batch is an index row.
type Batch struct {
	ID                    string
	OwnerID               string
	Status                Status
	Priority              Priority
	RetryCount            int
	ErrorStage            string
	ErrorMessage          string
	Artifacts             map[artifact.Type]string
	Metrics               Metrics
	RecordingStartedAt    time.Time
	RecordingEndedAt      time.Time
	CreatedAt             time.Time
	ProcessingStartedAt   time.Time
	ProcessingCompletedAt time.Time
	UpdatedAt             time.Time
}

// AttachmentKind distinguishes uploaded side files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentNote  AttachmentKind = "note"
)

// Attachment is an immutable record of an uploaded side file.
type Attachment struct {
	ID        int64
	BatchID   string
	Kind      AttachmentKind
	Filename  string
	StoreKey  string
	SizeBytes int64
	CreatedAt time.Time
}

// StageRecord is one row of the append-only stage attempt log.
type StageRecord struct {
	ID              int64
	BatchID         string
	Stage           string
	Attempt         int
	DurationSeconds float64
	Success         bool
	ErrorMessage    string
	CreatedAt       time.Time
}

// Summary is the reduced batch shape returned by list queries. It exposes
// nothing an owner could use to probe other owners' data volumes.
type Summary struct {
	ID                 string
	Status             Status
	RecordingStartedAt time.Time
	CreatedAt          time.Time
}

// ListFilter narrows list queries. Zero values mean "no constraint".
type ListFilter struct {
	Status    Status
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

// MaxListLimit caps page sizes for list queries.
const MaxListLimit = 100
