package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkItemPrLink is a cross-reference from a work item to a source-control
// pull request, unique on (work_item_id, external_repo_id,
// pull_request_number). Rows are insert-only; re-transforms skip existing
// keys.
type WorkItemPrLink struct {
	ID                uuid.UUID `json:"id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	IntegrationID     uuid.UUID `json:"integration_id"`
	WorkItemID        uuid.UUID `json:"work_item_id"`
	ExternalRepoID    string    `json:"external_repo_id"`
	RepoFullName      string    `json:"repo_full_name"`
	PullRequestNumber int       `json:"pull_request_number"`
	BranchName        *string   `json:"branch_name,omitempty"`
	CommitSHA         *string   `json:"commit_sha,omitempty"`
	PrStatus          string    `json:"pr_status"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}
