package types

import "time"

// Task state constants. A task moves PENDING -> STARTED and ends in
// SUCCESS or FAILURE; RETRY re-queues it back through STARTED.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateRetry   = "RETRY"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
)

// IsTerminal reports whether a task state is final.
func IsTerminal(state string) bool {
	return state == StateSuccess || state == StateFailure
}

// Source type constants
const (
	SourceUpload = "upload"
	SourceRemote = "remote"
	SourceStream = "stream"
	SourceBatch  = "batch"
)

// TranscriptionResult represents the output from the speech model
type TranscriptionResult struct {
	TaskID      string    `json:"task_id"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	Duration    float64   `json:"duration"`
	Segments    []Segment `json:"segments"`
	WordCount   int       `json:"word_count"`
	ProcessedAt time.Time `json:"processed_at"`
	LocalPath   string    `json:"local_path,omitempty"`
	ArchiveURL  string    `json:"archive_url,omitempty"`
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResponse is the payload returned to callers and delivered
// to webhooks. Cached marks results served from the transcription cache
// rather than fresh computation.
type TranscriptionResponse struct {
	Success        bool                 `json:"success"`
	TaskID         string               `json:"task_id"`
	Result         *TranscriptionResult `json:"result,omitempty"`
	Error          string               `json:"error,omitempty"`
	ErrorKind      string               `json:"error_kind,omitempty"`
	Cached         bool                 `json:"cached"`
	ProcessingTime float64              `json:"processing_time_seconds"`
}
