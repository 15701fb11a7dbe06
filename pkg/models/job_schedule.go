package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a scheduled job.
//
// READY -> RUNNING -> {FINISHED, PENDING (retry), FAILED, RATE_LIMIT_REACHED}.
// PAUSED is an external input that removes the job from the cycling selection.
type JobStatus string

const (
	JobStatusReady            JobStatus = "READY"
	JobStatusRunning          JobStatus = "RUNNING"
	JobStatusFinished         JobStatus = "FINISHED"
	JobStatusPending          JobStatus = "PENDING"
	JobStatusPaused           JobStatus = "PAUSED"
	JobStatusFailed           JobStatus = "FAILED"
	JobStatusRateLimitReached JobStatus = "RATE_LIMIT_REACHED"
)

// MaxErrorMessageLength caps the error text persisted on a failed schedule.
const MaxErrorMessageLength = 500

// JobSchedule controls one passive job in a tenant's cycling job sequence.
// At most one job per tenant is RUNNING in the same execution_order slot.
type JobSchedule struct {
	ID               uuid.UUID       `json:"id"`
	TenantID         uuid.UUID       `json:"tenant_id"`
	IntegrationID    uuid.UUID       `json:"integration_id"`
	JobName          string          `json:"job_name"`
	Status           JobStatus       `json:"status"`
	LastSuccessAt    *time.Time      `json:"last_success_at,omitempty"`
	LastRunStartedAt *time.Time      `json:"last_run_started_at,omitempty"`
	NextRun          *time.Time      `json:"next_run,omitempty"`
	ExecutionOrder   int             `json:"execution_order"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	Checkpoint       json.RawMessage `json:"checkpoint,omitempty"`
	StatusDoc        json.RawMessage `json:"status_doc,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	LastUpdatedAt    time.Time       `json:"last_updated_at"`
}

// TruncateError shortens an error message to fit the schedule's error column.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorMessageLength {
		return msg[:MaxErrorMessageLength]
	}
	return msg
}
