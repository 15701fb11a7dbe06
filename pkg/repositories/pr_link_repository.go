package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// PrLinkRepository stores work item to pull request cross-references.
// Rows are insert-only; re-transforms skip keys that already exist.
type PrLinkRepository interface {
	// ExistingKeys returns the (external_repo_id, pull_request_number) keys
	// already stored for the work item, formatted repoID#number.
	ExistingKeys(ctx context.Context, workItemID uuid.UUID) (map[string]bool, error)
	InsertNew(ctx context.Context, links []*models.WorkItemPrLink) error
}

type prLinkRepository struct{}

// NewPrLinkRepository creates a new pull request link repository.
func NewPrLinkRepository() PrLinkRepository {
	return &prLinkRepository{}
}

var _ PrLinkRepository = (*prLinkRepository)(nil)

// PrLinkKey formats the dedupe key for a repo and pull request number.
func PrLinkKey(externalRepoID string, prNumber int) string {
	return fmt.Sprintf("%s#%d", externalRepoID, prNumber)
}

func (r *prLinkRepository) ExistingKeys(ctx context.Context, workItemID uuid.UUID) (map[string]bool, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		"SELECT external_repo_id, pull_request_number FROM work_item_pr_links WHERE work_item_id = $1",
		workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing pr link keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var repoID string
		var number int
		if err := rows.Scan(&repoID, &number); err != nil {
			return nil, err
		}
		keys[PrLinkKey(repoID, number)] = true
	}
	return keys, rows.Err()
}

func (r *prLinkRepository) InsertNew(ctx context.Context, links []*models.WorkItemPrLink) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"id", "tenant_id", "integration_id", "work_item_id", "external_repo_id",
		"repo_full_name", "pull_request_number", "branch_name", "commit_sha", "pr_status",
		"active", "created_at", "last_updated_at"}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(links))
	for _, l := range links {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		l.CreatedAt, l.LastUpdatedAt = now, now
		rows = append(rows, []any{l.ID, l.TenantID, l.IntegrationID, l.WorkItemID, l.ExternalRepoID,
			l.RepoFullName, l.PullRequestNumber, l.BranchName, l.CommitSHA, l.PrStatus,
			l.Active, l.CreatedAt, l.LastUpdatedAt})
	}
	return database.BulkInsertRelationships(ctx, q, "work_item_pr_links", columns,
		[]string{"work_item_id", "external_repo_id", "pull_request_number"}, rows)
}
