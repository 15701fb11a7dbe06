package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawDataStatus tracks the single allowed transition of a staging row:
// pending -> completed or pending -> failed.
type RawDataStatus string

const (
	RawDataPending   RawDataStatus = "pending"
	RawDataCompleted RawDataStatus = "completed"
	RawDataFailed    RawDataStatus = "failed"
)

// Extraction payload types. These double as the transform message type and
// select the transformer that consumes the row.
const (
	TypeProjectsAndIssueTypes    = "jira_projects_and_issue_types"
	TypeStatusesAndRelationships = "jira_statuses_and_relationships"
	TypeCustomFields             = "jira_custom_fields"
	TypeSpecialFields            = "jira_special_fields"
	TypeIssuesWithChangelogs     = "jira_issues_with_changelogs"
	TypeDevStatus                = "jira_dev_status"
)

// RawExtractionData is the append-only staging row written by an extractor
// before transform. One row per extracted unit: a single issue, a single
// dev-status response, or one reference-data page.
type RawExtractionData struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	IntegrationID uuid.UUID       `json:"integration_id"`
	Type          string          `json:"type"`
	RawData       json.RawMessage `json:"raw_data"`
	Status        RawDataStatus   `json:"status"`
	ErrorDetails  *string         `json:"error_details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}
