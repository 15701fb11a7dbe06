package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// ChangelogRepository stores the insert-only status transition history.
type ChangelogRepository interface {
	// ExistingExternalIDs returns the changelog external ids already stored
	// for the given work items, keyed by work item id. The transform stage
	// deduplicates incoming transitions against this set.
	ExistingExternalIDs(ctx context.Context, workItemIDs []uuid.UUID) (map[uuid.UUID]map[string]bool, error)
	BulkInsert(ctx context.Context, entries []*models.Changelog) error
	// ListByWorkItem returns the full chain sorted by transition_change_date
	// ascending, as the metrics engine expects.
	ListByWorkItem(ctx context.Context, workItemID uuid.UUID) ([]*models.Changelog, error)
}

type changelogRepository struct{}

// NewChangelogRepository creates a new changelog repository.
func NewChangelogRepository() ChangelogRepository {
	return &changelogRepository{}
}

var _ ChangelogRepository = (*changelogRepository)(nil)

func (r *changelogRepository) ExistingExternalIDs(ctx context.Context, workItemIDs []uuid.UUID) (map[uuid.UUID]map[string]bool, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	if len(workItemIDs) == 0 {
		return map[uuid.UUID]map[string]bool{}, nil
	}

	rows, err := q.Query(ctx,
		"SELECT work_item_id, external_id FROM changelogs WHERE work_item_id = ANY($1)", workItemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing changelog ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[uuid.UUID]map[string]bool)
	for rows.Next() {
		var workItemID uuid.UUID
		var externalID string
		if err := rows.Scan(&workItemID, &externalID); err != nil {
			return nil, err
		}
		if existing[workItemID] == nil {
			existing[workItemID] = make(map[string]bool)
		}
		existing[workItemID][externalID] = true
	}
	return existing, rows.Err()
}

func (r *changelogRepository) BulkInsert(ctx context.Context, entries []*models.Changelog) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"id", "tenant_id", "integration_id", "work_item_id", "external_id",
		"from_status_id", "to_status_id", "transition_start_date", "transition_change_date",
		"time_in_status_seconds", "changed_by", "active", "created_at", "last_updated_at"}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for _, c := range entries {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.CreatedAt, c.LastUpdatedAt = now, now
		rows = append(rows, []any{c.ID, c.TenantID, c.IntegrationID, c.WorkItemID, c.ExternalID,
			c.FromStatusID, c.ToStatusID, c.TransitionStartDate, c.TransitionChangeDate,
			c.TimeInStatusSeconds, c.ChangedBy, c.Active, c.CreatedAt, c.LastUpdatedAt})
	}
	return database.BulkInsert(ctx, q, "changelogs", columns, rows, database.DefaultBatchSize)
}

func (r *changelogRepository) ListByWorkItem(ctx context.Context, workItemID uuid.UUID) ([]*models.Changelog, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, tenant_id, integration_id, work_item_id, external_id, from_status_id,
		       to_status_id, transition_start_date, transition_change_date,
		       time_in_status_seconds, changed_by, active, created_at, last_updated_at
		FROM changelogs
		WHERE work_item_id = $1
		ORDER BY transition_change_date`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changelogs: %w", err)
	}
	defer rows.Close()

	var entries []*models.Changelog
	for rows.Next() {
		var c models.Changelog
		if err := rows.Scan(&c.ID, &c.TenantID, &c.IntegrationID, &c.WorkItemID, &c.ExternalID,
			&c.FromStatusID, &c.ToStatusID, &c.TransitionStartDate, &c.TransitionChangeDate,
			&c.TimeInStatusSeconds, &c.ChangedBy, &c.Active, &c.CreatedAt, &c.LastUpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &c)
	}
	return entries, rows.Err()
}
