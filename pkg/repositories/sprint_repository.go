package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// SprintRepository manages sprints and their work item associations.
// Concurrent issue-transform workers for the same tenant may race on the
// same sprint, so all writes are conflict-tolerant upserts.
type SprintRepository interface {
	// UpsertSprints inserts or refreshes sprints and returns the
	// external_id -> id map covering every input sprint.
	UpsertSprints(ctx context.Context, sprints []*models.Sprint) (map[string]uuid.UUID, error)
	LinkWorkItems(ctx context.Context, links []models.WorkItemSprint) error
}

type sprintRepository struct{}

// NewSprintRepository creates a new sprint repository.
func NewSprintRepository() SprintRepository {
	return &sprintRepository{}
}

var _ SprintRepository = (*sprintRepository)(nil)

func (r *sprintRepository) UpsertSprints(ctx context.Context, sprints []*models.Sprint) (map[string]uuid.UUID, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]uuid.UUID, len(sprints))
	if len(sprints) == 0 {
		return ids, nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, s := range sprints {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		// RETURNING id resolves to the existing row's id on conflict.
		batch.Queue(`
			INSERT INTO sprints (id, tenant_id, integration_id, external_id, board_id, name, state, active, created_at, last_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE
			SET board_id = EXCLUDED.board_id, name = EXCLUDED.name,
			    state = EXCLUDED.state, last_updated_at = EXCLUDED.last_updated_at
			RETURNING id`,
			s.ID, s.TenantID, s.IntegrationID, s.ExternalID, s.BoardID, s.Name, s.State, s.Active, now)
	}

	results := q.SendBatch(ctx, batch)
	var execErr error
	for _, s := range sprints {
		var id uuid.UUID
		if err := results.QueryRow().Scan(&id); err != nil {
			if execErr == nil {
				execErr = err
			}
			continue
		}
		ids[s.ExternalID] = id
	}
	if err := results.Close(); err != nil && execErr == nil {
		execErr = err
	}
	if execErr != nil {
		return nil, fmt.Errorf("failed to upsert sprints: %w", execErr)
	}
	return ids, nil
}

func (r *sprintRepository) LinkWorkItems(ctx context.Context, links []models.WorkItemSprint) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(links))
	for _, l := range links {
		rows = append(rows, []any{l.WorkItemID, l.SprintID, l.AddedDate, l.TenantID, l.Active})
	}
	return database.BulkInsertRelationships(ctx, q, "work_item_sprints",
		[]string{"work_item_id", "sprint_id", "added_date", "tenant_id", "active"},
		[]string{"work_item_id", "sprint_id", "added_date"}, rows)
}
