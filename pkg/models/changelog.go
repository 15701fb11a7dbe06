package models

import (
	"time"

	"github.com/google/uuid"
)

// Changelog is one status transition of a work item. Rows are insert-only,
// deduplicated by (work_item_id, external_id).
//
// For a work item, the rows sorted by transition_change_date ascending form
// a contiguous chain: each row's transition_start_date equals the previous
// row's transition_change_date, and the first row starts at the work item's
// created timestamp.
type Changelog struct {
	ID                   uuid.UUID  `json:"id"`
	TenantID             uuid.UUID  `json:"tenant_id"`
	IntegrationID        uuid.UUID  `json:"integration_id"`
	WorkItemID           uuid.UUID  `json:"work_item_id"`
	ExternalID           string     `json:"external_id"`
	FromStatusID         *uuid.UUID `json:"from_status_id,omitempty"`
	ToStatusID           *uuid.UUID `json:"to_status_id,omitempty"`
	TransitionStartDate  time.Time  `json:"transition_start_date"`
	TransitionChangeDate time.Time  `json:"transition_change_date"`
	TimeInStatusSeconds  float64    `json:"time_in_status_seconds"`
	ChangedBy            string     `json:"changed_by"`
	Active               bool       `json:"active"`
	CreatedAt            time.Time  `json:"created_at"`
	LastUpdatedAt        time.Time  `json:"last_updated_at"`
}
