package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkItem is a provider issue in normalized form, including the derived
// workflow metric columns and the 20 mapped custom-field slots.
type WorkItem struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	IntegrationID    uuid.UUID  `json:"integration_id"`
	ExternalID       string     `json:"external_id"`
	Key              string     `json:"key"`
	Summary          string     `json:"summary"`
	Description      string     `json:"description"`
	ProjectID        *uuid.UUID `json:"project_id,omitempty"`
	WitID            *uuid.UUID `json:"wit_id,omitempty"`
	StatusID         *uuid.UUID `json:"status_id,omitempty"`
	Priority         string     `json:"priority"`
	Resolution       string     `json:"resolution"`
	Assignee         string     `json:"assignee"`
	Team             string     `json:"team"`
	Labels           string     `json:"labels"` // comma-separated
	StoryPoints      *float64   `json:"story_points,omitempty"`
	Development      bool       `json:"development"`
	ParentExternalID *string    `json:"parent_external_id,omitempty"`
	Created          time.Time  `json:"created"`
	Updated          time.Time  `json:"updated"`

	Metrics WorkflowMetrics `json:"metrics"`

	CustomFields  [20]string `json:"-"` // custom_field_01 .. custom_field_20
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

// WorkflowMetrics are the derived per-work-item timing and pattern metrics.
// They are a pure function of the work item's changelog chain and the
// status-category map.
type WorkflowMetrics struct {
	WorkFirstCommittedAt    *time.Time `json:"work_first_committed_at,omitempty"`
	WorkFirstStartedAt      *time.Time `json:"work_first_started_at,omitempty"`
	WorkLastStartedAt       *time.Time `json:"work_last_started_at,omitempty"`
	WorkFirstCompletedAt    *time.Time `json:"work_first_completed_at,omitempty"`
	WorkLastCompletedAt     *time.Time `json:"work_last_completed_at,omitempty"`
	TotalWorkStarts         int        `json:"total_work_starts"`
	TotalCompletions        int        `json:"total_completions"`
	TotalBacklogReturns     int        `json:"total_backlog_returns"`
	TotalWorkTimeSeconds    float64    `json:"total_work_time_seconds"`
	TotalReviewTimeSeconds  float64    `json:"total_review_time_seconds"`
	TotalCycleTimeSeconds   float64    `json:"total_cycle_time_seconds"`
	TotalLeadTimeSeconds    float64    `json:"total_lead_time_seconds"`
	WorkflowComplexityScore int        `json:"workflow_complexity_score"`
	ReworkIndicator         bool       `json:"rework_indicator"`
	DirectCompletion        bool       `json:"direct_completion"`
}
