package models

import (
	"time"
)

// Artwork status values persisted in Postgres. The pipeline owns every
// transition except published, which only the editing service writes.
const (
	StatusDraft     = "draft"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusGenerated = "generated"
	StatusFailed    = "failed"
	StatusPublished = "published"
)

// Output classes selectable on a draft.
const (
	OutputSquare    = "square"
	OutputPortrait  = "portrait"
	OutputLandscape = "landscape"
)

// SizeForOutput maps an output class to the generation API size string.
func SizeForOutput(output string) string {
	switch output {
	case OutputPortrait:
		return "1024x1536"
	case OutputLandscape:
		return "1536x1024"
	default:
		return "1024x1024"
	}
}

// TerminalStatus reports whether no further pipeline transition may occur.
func TerminalStatus(status string) bool {
	return status == StatusGenerated || status == StatusFailed || status == StatusPublished
}

// Artwork is the persisted record tracked through the generation pipeline.
// Descriptive fields belong to the editing service; the pipeline reads them
// to build the prompt and writes only the status/progress/artifact fields.
type Artwork struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	Year        string   `json:"year"`
	Collection  string   `json:"collection"`
	Notes       string   `json:"notes"`
	Tags        []string `json:"tags"`
	Output      string   `json:"output"`

	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
	JobID    string `json:"job_id"`

	ArtifactURL   string `json:"artifact_url"`
	ArtifactKey   string `json:"artifact_key"`
	ArtifactBytes int64  `json:"artifact_bytes"`
	ArtifactMime  string `json:"artifact_mime"`
	ThumbURL      string `json:"thumb_url"`
	ThumbKey      string `json:"thumb_key"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobDescriptor is the immutable payload handed to the queue. It carries
// enough identity to re-derive the record without trusting worker state.
type JobDescriptor struct {
	JobID      string    `json:"job_id"`
	ArtworkID  string    `json:"artwork_id"`
	OwnerID    string    `json:"owner_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ArtworkStatus is the subset of fields a polling client observes.
type ArtworkStatus struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Stage       string `json:"stage"`
	Error       string `json:"error"`
	ArtifactURL string `json:"artifact_url"`
	ThumbURL    string `json:"thumb_url"`
}

// StatusOf projects the poll-visible fields out of a record.
func StatusOf(a Artwork) ArtworkStatus {
	return ArtworkStatus{
		Status:      a.Status,
		Progress:    a.Progress,
		Stage:       a.Stage,
		Error:       a.Error,
		ArtifactURL: a.ArtifactURL,
		ThumbURL:    a.ThumbURL,
	}
}
