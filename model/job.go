package model

import (
	"encoding/json"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

const (
	PriorityHigh = "high"
	PriorityLow  = "low"
)

// Stage names in their fixed execution order.
const (
	StageValidate           = "validate"
	StageFetchInput         = "fetch_input"
	StageAIGenerate         = "ai_generate"
	StageUploadExport       = "upload_export"
	StageGenerateThumbnails = "generate_thumbnails"
)

// StageOrder is the full pipeline in execution order. No stage may start
// before the previous one has finished.
var StageOrder = []string{
	StageValidate,
	StageFetchInput,
	StageAIGenerate,
	StageUploadExport,
	StageGenerateThumbnails,
}

// Job is one admitted generation request tracked through the fixed status
// lifecycle created -> queued -> processing -> completed | failed | cancelled.
type Job struct {
	ID                  int64                  `json:"-"`
	JobID               string                 `json:"job_id"`
	AccountID           string                 `json:"account_id"`
	IdempotencyKey      string                 `json:"idempotency_key"`
	Category            string                 `json:"category"`
	BackgroundStyle     string                 `json:"background_style"`
	TemplateLayout      string                 `json:"template_layout"`
	MannequinMode       string                 `json:"mannequin_mode"`
	CustomPrompt        string                 `json:"custom_prompt,omitempty"`
	SourceChannel       string                 `json:"source_channel"`
	SourceImageKey      string                 `json:"source_image_key,omitempty"`
	Priority            string                 `json:"priority"`
	Status              string                 `json:"status"`
	Attempts            int                    `json:"attempts"`
	LastErrorCode       string                 `json:"last_error_code,omitempty"`
	LastErrorMessage    string                 `json:"last_error_message,omitempty"`
	StageDurations      map[string]int64       `json:"stage_durations,omitempty"`
	TotalDurationMillis int64                  `json:"total_duration_ms"`
	MetaData            map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	QueuedAt            time.Time              `json:"queued_at,omitempty"`
	ProcessingStartedAt time.Time              `json:"processing_started_at,omitempty"`
	CompletedAt         time.Time              `json:"completed_at,omitempty"`
}

// Terminal reports whether the job reached a state the pipeline must not
// re-enter.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// WorkMessage is the queue contract between admission and the pipeline
// workers. Delivery is at-least-once; consumers must stay idempotent per
// job id.
type WorkMessage struct {
	JobID           string `json:"job_id"`
	AccountID       string `json:"account_id"`
	CorrelationID   string `json:"correlation_id"`
	Priority        string `json:"priority"`
	Category        string `json:"category"`
	BackgroundStyle string `json:"background_style"`
	TemplateLayout  string `json:"template_layout"`
	MannequinMode   string `json:"mannequin_mode"`
	CustomPrompt    string `json:"custom_prompt,omitempty"`
	SourceChannel   string `json:"source_channel"`
	SourceImageKey  string `json:"source_image_key,omitempty"`
	Price           int64  `json:"price,omitempty"`
	Handle          string `json:"handle,omitempty"`
	Badge           string `json:"badge,omitempty"`
}

// FailedJob is the terminal dead-letter record for a job that exhausted its
// retries. Exactly one row exists per job id; the reviewed fields belong to
// the operator workflow.
type FailedJob struct {
	ID           int64                  `json:"-"`
	JobID        string                 `json:"job_id"`
	AccountID    string                 `json:"account_id"`
	ErrorCode    string                 `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	Attempts     int                    `json:"attempts"`
	JobSnapshot  map[string]interface{} `json:"job_snapshot,omitempty"`
	Reviewed     bool                   `json:"reviewed"`
	ReviewedBy   string                 `json:"reviewed_by,omitempty"`
	ReviewNotes  string                 `json:"review_notes,omitempty"`
	FailedAt     time.Time              `json:"failed_at"`
}
