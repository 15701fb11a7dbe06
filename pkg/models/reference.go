package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is a provider project in normalized form. external_id is unique
// per integration.
type Project struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    string    `json:"external_id"`
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	ProjectType   string    `json:"project_type"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Wit is a work item type (provider issue type), deduplicated globally by
// external_id across all projects of one integration.
type Wit struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	IntegrationID  uuid.UUID  `json:"integration_id"`
	ExternalID     string     `json:"external_id"`
	OriginalName   string     `json:"original_name"`
	Description    string     `json:"description"`
	HierarchyLevel int        `json:"hierarchy_level"`
	MappingID      *uuid.UUID `json:"mapping_id,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
}

// Status category names, normalized to lowercase. These drive the workflow
// metrics engine.
const (
	CategoryToDo       = "to do"
	CategoryInProgress = "in progress"
	CategoryDone       = "done"
)

// Status is a provider workflow status, global per integration.
type Status struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	IntegrationID uuid.UUID  `json:"integration_id"`
	ExternalID    string     `json:"external_id"`
	OriginalName  string     `json:"original_name"`
	Category      string     `json:"category"`
	Description   string     `json:"description"`
	MappingID     *uuid.UUID `json:"mapping_id,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

// ProjectWit is a project <-> work-item-type edge, unique on
// (project_id, wit_id).
type ProjectWit struct {
	ProjectID uuid.UUID `json:"project_id"`
	WitID     uuid.UUID `json:"wit_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
}

// ProjectStatus is a project <-> status edge, unique on
// (project_id, status_id).
type ProjectStatus struct {
	ProjectID uuid.UUID `json:"project_id"`
	StatusID  uuid.UUID `json:"status_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
}

// CustomField is one entry of the provider's custom-field catalog, global
// per integration.
type CustomField struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    string    `json:"external_id"`
	Name          string    `json:"name"`
	FieldType     string    `json:"field_type"`
	Operations    string    `json:"operations"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// CustomFieldsMapping routes provider-side field IDs to fixed columns on
// WorkItem. The sprints mapping is never written into a column; it is
// consumed only by the sprint-association step.
type CustomFieldsMapping struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	IntegrationID      uuid.UUID `json:"integration_id"`
	TeamFieldID        *string   `json:"team_field_id,omitempty"`
	SprintsFieldID     *string   `json:"sprints_field_id,omitempty"`
	DevelopmentFieldID *string   `json:"development_field_id,omitempty"`
	StoryPointsFieldID *string   `json:"story_points_field_id,omitempty"`
	CustomFieldIDs     [20]*string
	CreatedAt          time.Time `json:"created_at"`
	LastUpdatedAt      time.Time `json:"last_updated_at"`
}
