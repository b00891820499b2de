package queue

import (
	"context"
	"time"

	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// Task is one unit of transcription work tracked through the
// PENDING -> STARTED -> {SUCCESS | FAILURE | RETRY} state machine.
// It is owned exclusively by the worker pool; callers observe it
// through snapshots.
type Task struct {
	ID          string
	RequestName string
	SourceType  string
	FilePath    string
	Language    string
	Model       string
	WebhookURL  string

	State       string
	Error       string
	ErrorKind   string
	Result      *types.TranscriptionResponse
	RetriesUsed int

	CreatedAt time.Time
	UpdatedAt time.Time

	cancel    context.CancelFunc
	cancelled bool
}

// NewTask creates a pending task.
func NewTask(id, requestName, sourceType, filePath string) *Task {
	now := time.Now()
	return &Task{
		ID:          id,
		RequestName: requestName,
		SourceType:  sourceType,
		FilePath:    filePath,
		State:       types.StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Snapshot is a caller-visible copy of a task's observable state.
type Snapshot struct {
	ID          string                       `json:"task_id"`
	RequestName string                       `json:"request_name"`
	SourceType  string                       `json:"source_type"`
	State       string                       `json:"state"`
	Error       string                       `json:"error,omitempty"`
	ErrorKind   string                       `json:"error_kind,omitempty"`
	Result      *types.TranscriptionResponse `json:"result,omitempty"`
	RetriesUsed int                          `json:"retries_used"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}

func (t *Task) snapshot() Snapshot {
	return Snapshot{
		ID:          t.ID,
		RequestName: t.RequestName,
		SourceType:  t.SourceType,
		State:       t.State,
		Error:       t.Error,
		ErrorKind:   t.ErrorKind,
		Result:      t.Result,
		RetriesUsed: t.RetriesUsed,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
