package models

import (
	"time"

	"github.com/google/uuid"
)

// Sprint is upserted on conflict by (tenant_id, integration_id, external_id)
// because concurrent issue-transform workers may see the same sprint
// simultaneously.
type Sprint struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    string    `json:"external_id"`
	BoardID       string    `json:"board_id"`
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// WorkItemSprint links a work item to a sprint, unique on
// (work_item_id, sprint_id, added_date).
type WorkItemSprint struct {
	WorkItemID uuid.UUID `json:"work_item_id"`
	SprintID   uuid.UUID `json:"sprint_id"`
	AddedDate  time.Time `json:"added_date"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Active     bool      `json:"active"`
}
