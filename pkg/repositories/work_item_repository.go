package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// WorkItemRepository persists normalized work items and their derived
// workflow metrics.
type WorkItemRepository interface {
	// MapByExternalIDs resolves provider issue ids to internal ids so the
	// transform stage can partition a page into inserts and updates.
	MapByExternalIDs(ctx context.Context, integrationID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error)
	Insert(ctx context.Context, items []*models.WorkItem) error
	Update(ctx context.Context, items []*models.WorkItem) error
	UpdateMetrics(ctx context.Context, id uuid.UUID, m models.WorkflowMetrics) error
	// SetDevelopment flips the derived development flag for the given items.
	SetDevelopment(ctx context.Context, ids []uuid.UUID, development bool) error
	GetByExternalID(ctx context.Context, integrationID uuid.UUID, externalID string) (*models.WorkItem, error)
}

type workItemRepository struct{}

// NewWorkItemRepository creates a new work item repository.
func NewWorkItemRepository() WorkItemRepository {
	return &workItemRepository{}
}

var _ WorkItemRepository = (*workItemRepository)(nil)

func workItemColumns() []string {
	cols := []string{"id", "tenant_id", "integration_id", "external_id", "key", "summary",
		"description", "project_id", "wit_id", "status_id", "priority", "resolution",
		"assignee", "team", "labels", "story_points", "development", "parent_external_id",
		"created", "updated"}
	for i := 1; i <= 20; i++ {
		cols = append(cols, fmt.Sprintf("custom_field_%02d", i))
	}
	return append(cols, "active", "created_at", "last_updated_at")
}

func workItemValues(w *models.WorkItem) []any {
	vals := []any{w.ID, w.TenantID, w.IntegrationID, w.ExternalID, w.Key, w.Summary,
		w.Description, w.ProjectID, w.WitID, w.StatusID, w.Priority, w.Resolution,
		w.Assignee, w.Team, w.Labels, w.StoryPoints, w.Development, w.ParentExternalID,
		w.Created, w.Updated}
	for _, cf := range w.CustomFields {
		vals = append(vals, cf)
	}
	return append(vals, w.Active, w.CreatedAt, w.LastUpdatedAt)
}

func (r *workItemRepository) MapByExternalIDs(ctx context.Context, integrationID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	if len(externalIDs) == 0 {
		return map[string]uuid.UUID{}, nil
	}

	rows, err := q.Query(ctx,
		"SELECT external_id, id FROM work_items WHERE integration_id = $1 AND external_id = ANY($2)",
		integrationID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to map work items: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID, len(externalIDs))
	for rows.Next() {
		var externalID string
		var id uuid.UUID
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, err
		}
		ids[externalID] = id
	}
	return ids, rows.Err()
}

func (r *workItemRepository) Insert(ctx context.Context, items []*models.WorkItem) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(items))
	for _, w := range items {
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		w.CreatedAt, w.LastUpdatedAt = now, now
		rows = append(rows, workItemValues(w))
	}
	return database.BulkInsert(ctx, q, "work_items", workItemColumns(), rows, database.DefaultBatchSize)
}

func (r *workItemRepository) Update(ctx context.Context, items []*models.WorkItem) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	cols := []string{"key", "summary", "description", "project_id", "wit_id", "status_id",
		"priority", "resolution", "assignee", "team", "labels", "story_points",
		"parent_external_id", "created", "updated"}
	for i := 1; i <= 20; i++ {
		cols = append(cols, fmt.Sprintf("custom_field_%02d", i))
	}
	cols = append(cols, "active", "last_updated_at")

	now := time.Now().UTC()
	rows := make([][]any, 0, len(items))
	for _, w := range items {
		// development is derived separately and never reset by updates.
		vals := []any{w.ID, w.Key, w.Summary, w.Description, w.ProjectID, w.WitID, w.StatusID,
			w.Priority, w.Resolution, w.Assignee, w.Team, w.Labels, w.StoryPoints,
			w.ParentExternalID, w.Created, w.Updated}
		for _, cf := range w.CustomFields {
			vals = append(vals, cf)
		}
		vals = append(vals, w.Active, now)
		rows = append(rows, vals)
	}
	return database.BulkUpdate(ctx, q, "work_items", "id", cols, rows, database.DefaultBatchSize)
}

func (r *workItemRepository) UpdateMetrics(ctx context.Context, id uuid.UUID, m models.WorkflowMetrics) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		UPDATE work_items SET
			work_first_committed_at = $2, work_first_started_at = $3, work_last_started_at = $4,
			work_first_completed_at = $5, work_last_completed_at = $6,
			total_work_starts = $7, total_completions = $8, total_backlog_returns = $9,
			total_work_time_seconds = $10, total_review_time_seconds = $11,
			total_cycle_time_seconds = $12, total_lead_time_seconds = $13,
			workflow_complexity_score = $14, rework_indicator = $15, direct_completion = $16,
			last_updated_at = now()
		WHERE id = $1`,
		id, m.WorkFirstCommittedAt, m.WorkFirstStartedAt, m.WorkLastStartedAt,
		m.WorkFirstCompletedAt, m.WorkLastCompletedAt,
		m.TotalWorkStarts, m.TotalCompletions, m.TotalBacklogReturns,
		m.TotalWorkTimeSeconds, m.TotalReviewTimeSeconds,
		m.TotalCycleTimeSeconds, m.TotalLeadTimeSeconds,
		m.WorkflowComplexityScore, m.ReworkIndicator, m.DirectCompletion)
	if err != nil {
		return fmt.Errorf("failed to update work item metrics: %w", err)
	}
	return nil
}

func (r *workItemRepository) SetDevelopment(ctx context.Context, ids []uuid.UUID, development bool) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = q.Exec(ctx,
		"UPDATE work_items SET development = $2, last_updated_at = now() WHERE id = ANY($1)",
		ids, development)
	if err != nil {
		return fmt.Errorf("failed to set development flag: %w", err)
	}
	return nil
}

func (r *workItemRepository) GetByExternalID(ctx context.Context, integrationID uuid.UUID, externalID string) (*models.WorkItem, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	cols := ""
	for i, c := range workItemColumns() {
		if i > 0 {
			cols += ", "
		}
		cols += c
	}

	row := q.QueryRow(ctx,
		"SELECT "+cols+" FROM work_items WHERE integration_id = $1 AND external_id = $2",
		integrationID, externalID)

	var w models.WorkItem
	dest := []any{&w.ID, &w.TenantID, &w.IntegrationID, &w.ExternalID, &w.Key, &w.Summary,
		&w.Description, &w.ProjectID, &w.WitID, &w.StatusID, &w.Priority, &w.Resolution,
		&w.Assignee, &w.Team, &w.Labels, &w.StoryPoints, &w.Development, &w.ParentExternalID,
		&w.Created, &w.Updated}
	for i := range w.CustomFields {
		dest = append(dest, &w.CustomFields[i])
	}
	dest = append(dest, &w.Active, &w.CreatedAt, &w.LastUpdatedAt)

	if err := scanOne(row.Scan(dest...)); err != nil {
		return nil, err
	}
	return &w, nil
}
