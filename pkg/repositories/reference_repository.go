package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// ReferenceRepository manages the normalized reference tables: projects,
// work item types, statuses, their project edges, and the custom-field
// catalog with its column mapping.
type ReferenceRepository interface {
	ProjectIDsByExternalID(ctx context.Context, integrationID uuid.UUID) (map[string]uuid.UUID, error)
	WitIDsByExternalID(ctx context.Context, integrationID uuid.UUID) (map[string]uuid.UUID, error)
	StatusIDsByExternalID(ctx context.Context, integrationID uuid.UUID) (map[string]uuid.UUID, error)

	InsertProjects(ctx context.Context, projects []*models.Project) error
	UpdateProjects(ctx context.Context, projects []*models.Project) error
	InsertWits(ctx context.Context, wits []*models.Wit) error
	UpdateWits(ctx context.Context, wits []*models.Wit) error
	InsertStatuses(ctx context.Context, statuses []*models.Status) error
	UpdateStatuses(ctx context.Context, statuses []*models.Status) error

	LinkProjectWits(ctx context.Context, edges []models.ProjectWit) error
	LinkProjectStatuses(ctx context.Context, edges []models.ProjectStatus) error

	// StatusCategories returns the status_id -> lowercase category map for
	// an integration. The workflow metrics engine consumes this.
	StatusCategories(ctx context.Context, integrationID uuid.UUID) (map[uuid.UUID]string, error)
	// StatusesUpdatedSince lists statuses touched at or after the given
	// instant. The reference transform uses it to fan out embedding jobs
	// after the last page lands.
	StatusesUpdatedSince(ctx context.Context, integrationID uuid.UUID, since time.Time) ([]*models.Status, error)

	// WitMappingIDs and StatusMappingIDs return lowercase name -> mapping id
	// for case-insensitive resolution during transforms.
	WitMappingIDs(ctx context.Context, tenantID uuid.UUID) (map[string]uuid.UUID, error)
	StatusMappingIDs(ctx context.Context, tenantID uuid.UUID) (map[string]uuid.UUID, error)

	UpsertCustomFields(ctx context.Context, fields []*models.CustomField) error
	GetCustomFieldsMapping(ctx context.Context, integrationID uuid.UUID) (*models.CustomFieldsMapping, error)
	// AutoMapSpecialFields fills the sprints/development/story-points slots
	// of the mapping from the field catalog by well-known names, only where
	// the slot is still empty.
	AutoMapSpecialFields(ctx context.Context, integrationID uuid.UUID) error
}

type referenceRepository struct{}

// NewReferenceRepository creates a new reference data repository.
func NewReferenceRepository() ReferenceRepository {
	return &referenceRepository{}
}

var _ ReferenceRepository = (*referenceRepository)(nil)

func (r *referenceRepository) ProjectIDsByExternalID(ctx context.Context, integrationID uuid.UUID) (map[string]uuid.UUID, error) {
	return r.idMap(ctx, "projects", integrationID)
}

func (r *referenceRepository) WitIDsByExternalID(ctx context.Context, integrationID uuid.UUID) (map[string]uuid.UUID, error) {
	return r.idMap(ctx, "wits", integrationID)
}

func (r *referenceRepository) StatusIDsByExternalID(ctx context.Context, integrationID uuid.UUID) (map[string]uuid.UUID, error) {
	return r.idMap(ctx, "statuses", integrationID)
}

func (r *referenceRepository) idMap(ctx context.Context, table string, integrationID uuid.UUID) (map[string]uuid.UUID, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		"SELECT external_id, id FROM "+table+" WHERE integration_id = $1", integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s id map: %w", table, err)
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID)
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

func (r *referenceRepository) InsertProjects(ctx context.Context, projects []*models.Project) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"id", "tenant_id", "integration_id", "external_id", "key", "name",
		"project_type", "active", "created_at", "last_updated_at"}
	rows := make([][]any, 0, len(projects))
	now := time.Now().UTC()
	for _, p := range projects {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt, p.LastUpdatedAt = now, now
		rows = append(rows, []any{p.ID, p.TenantID, p.IntegrationID, p.ExternalID, p.Key,
			p.Name, p.ProjectType, p.Active, p.CreatedAt, p.LastUpdatedAt})
	}
	return database.BulkInsert(ctx, q, "projects", columns, rows, database.DefaultBatchSize)
}

func (r *referenceRepository) UpdateProjects(ctx context.Context, projects []*models.Project) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"key", "name", "project_type", "active", "last_updated_at"}
	rows := make([][]any, 0, len(projects))
	now := time.Now().UTC()
	for _, p := range projects {
		rows = append(rows, []any{p.ID, p.Key, p.Name, p.ProjectType, p.Active, now})
	}
	return database.BulkUpdate(ctx, q, "projects", "id", columns, rows, database.DefaultBatchSize)
}

func (r *referenceRepository) InsertWits(ctx context.Context, wits []*models.Wit) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"id", "tenant_id", "integration_id", "external_id", "original_name",
		"description", "hierarchy_level", "mapping_id", "active", "created_at", "last_updated_at"}
	rows := make([][]any, 0, len(wits))
	now := time.Now().UTC()
	for _, w := range wits {
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		w.CreatedAt, w.LastUpdatedAt = now, now
		rows = append(rows, []any{w.ID, w.TenantID, w.IntegrationID, w.ExternalID, w.OriginalName,
			w.Description, w.HierarchyLevel, w.MappingID, w.Active, w.CreatedAt, w.LastUpdatedAt})
	}
	return database.BulkInsert(ctx, q, "wits", columns, rows, database.DefaultBatchSize)
}

func (r *referenceRepository) UpdateWits(ctx context.Context, wits []*models.Wit) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"original_name", "description", "hierarchy_level", "active", "last_updated_at"}
	rows := make([][]any, 0, len(wits))
	now := time.Now().UTC()
	for _, w := range wits {
		rows = append(rows, []any{w.ID, w.OriginalName, w.Description, w.HierarchyLevel, w.Active, now})
	}
	return database.BulkUpdate(ctx, q, "wits", "id", columns, rows, database.DefaultBatchSize)
}

func (r *referenceRepository) InsertStatuses(ctx context.Context, statuses []*models.Status) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"id", "tenant_id", "integration_id", "external_id", "original_name",
		"category", "description", "mapping_id", "active", "created_at", "last_updated_at"}
	rows := make([][]any, 0, len(statuses))
	now := time.Now().UTC()
	for _, s := range statuses {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.CreatedAt, s.LastUpdatedAt = now, now
		rows = append(rows, []any{s.ID, s.TenantID, s.IntegrationID, s.ExternalID, s.OriginalName,
			s.Category, s.Description, s.MappingID, s.Active, s.CreatedAt, s.LastUpdatedAt})
	}
	return database.BulkInsert(ctx, q, "statuses", columns, rows, database.DefaultBatchSize)
}

func (r *referenceRepository) UpdateStatuses(ctx context.Context, statuses []*models.Status) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	columns := []string{"original_name", "category", "description", "active", "last_updated_at"}
	rows := make([][]any, 0, len(statuses))
	now := time.Now().UTC()
	for _, s := range statuses {
		rows = append(rows, []any{s.ID, s.OriginalName, s.Category, s.Description, s.Active, now})
	}
	return database.BulkUpdate(ctx, q, "statuses", "id", columns, rows, database.DefaultBatchSize)
}

func (r *referenceRepository) LinkProjectWits(ctx context.Context, edges []models.ProjectWit) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, []any{e.ProjectID, e.WitID, e.TenantID})
	}
	return database.BulkInsertRelationships(ctx, q, "project_wits",
		[]string{"project_id", "wit_id", "tenant_id"},
		[]string{"project_id", "wit_id"}, rows)
}

func (r *referenceRepository) LinkProjectStatuses(ctx context.Context, edges []models.ProjectStatus) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, []any{e.ProjectID, e.StatusID, e.TenantID})
	}
	return database.BulkInsertRelationships(ctx, q, "project_statuses",
		[]string{"project_id", "status_id", "tenant_id"},
		[]string{"project_id", "status_id"}, rows)
}

func (r *referenceRepository) StatusCategories(ctx context.Context, integrationID uuid.UUID) (map[uuid.UUID]string, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		"SELECT id, lower(category) FROM statuses WHERE integration_id = $1", integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status categories: %w", err)
	}
	defer rows.Close()

	categories := make(map[uuid.UUID]string)
	for rows.Next() {
		var id uuid.UUID
		var category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, err
		}
		categories[id] = category
	}
	return categories, rows.Err()
}

func (r *referenceRepository) StatusesUpdatedSince(ctx context.Context, integrationID uuid.UUID, since time.Time) ([]*models.Status, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, tenant_id, integration_id, external_id, original_name, category,
		       description, mapping_id, active, created_at, last_updated_at
		FROM statuses
		WHERE integration_id = $1 AND last_updated_at >= $2`,
		integrationID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list updated statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*models.Status
	for rows.Next() {
		var s models.Status
		if err := rows.Scan(&s.ID, &s.TenantID, &s.IntegrationID, &s.ExternalID, &s.OriginalName,
			&s.Category, &s.Description, &s.MappingID, &s.Active, &s.CreatedAt, &s.LastUpdatedAt); err != nil {
			return nil, err
		}
		statuses = append(statuses, &s)
	}
	return statuses, rows.Err()
}

func (r *referenceRepository) WitMappingIDs(ctx context.Context, tenantID uuid.UUID) (map[string]uuid.UUID, error) {
	return r.mappingIDs(ctx, "wits_mappings", tenantID)
}

func (r *referenceRepository) StatusMappingIDs(ctx context.Context, tenantID uuid.UUID) (map[string]uuid.UUID, error) {
	return r.mappingIDs(ctx, "statuses_mappings", tenantID)
}

func (r *referenceRepository) mappingIDs(ctx context.Context, table string, tenantID uuid.UUID) (map[string]uuid.UUID, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		"SELECT lower(name), id FROM "+table+" WHERE tenant_id = $1", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", table, err)
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID)
	for rows.Next() {
		var name string
		var id uuid.UUID
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

func (r *referenceRepository) UpsertCustomFields(ctx context.Context, fields []*models.CustomField) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, f := range fields {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO custom_fields (id, tenant_id, integration_id, external_id, name, field_type, operations, active, created_at, last_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (integration_id, external_id) DO UPDATE
			SET name = EXCLUDED.name, field_type = EXCLUDED.field_type,
			    operations = EXCLUDED.operations, active = EXCLUDED.active,
			    last_updated_at = EXCLUDED.last_updated_at`,
			f.ID, f.TenantID, f.IntegrationID, f.ExternalID, f.Name, f.FieldType, f.Operations, f.Active, now)
	}

	results := q.SendBatch(ctx, batch)
	var execErr error
	for range batch.Len() {
		if _, err := results.Exec(); err != nil && execErr == nil {
			execErr = err
		}
	}
	if err := results.Close(); err != nil && execErr == nil {
		execErr = err
	}
	if execErr != nil {
		return fmt.Errorf("failed to upsert custom fields: %w", execErr)
	}
	return nil
}

func (r *referenceRepository) GetCustomFieldsMapping(ctx context.Context, integrationID uuid.UUID) (*models.CustomFieldsMapping, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	cols := "id, tenant_id, integration_id, team_field_id, sprints_field_id, development_field_id, story_points_field_id"
	for i := 1; i <= 20; i++ {
		cols += fmt.Sprintf(", custom_field_%02d_id", i)
	}
	cols += ", created_at, last_updated_at"

	var m models.CustomFieldsMapping
	dest := []any{&m.ID, &m.TenantID, &m.IntegrationID, &m.TeamFieldID,
		&m.SprintsFieldID, &m.DevelopmentFieldID, &m.StoryPointsFieldID}
	for i := range m.CustomFieldIDs {
		dest = append(dest, &m.CustomFieldIDs[i])
	}
	dest = append(dest, &m.CreatedAt, &m.LastUpdatedAt)

	err = q.QueryRow(ctx,
		"SELECT "+cols+" FROM custom_fields_mappings WHERE integration_id = $1", integrationID).
		Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get custom fields mapping: %w", err)
	}
	return &m, nil
}

func (r *referenceRepository) AutoMapSpecialFields(ctx context.Context, integrationID uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	// Well-known provider field names. Fill only empty slots so operator
	// overrides survive re-syncs.
	_, err = q.Exec(ctx, `
		UPDATE custom_fields_mappings m
		SET sprints_field_id = COALESCE(m.sprints_field_id,
			(SELECT external_id FROM custom_fields
			 WHERE integration_id = $1 AND lower(name) = 'sprint' LIMIT 1)),
		    development_field_id = COALESCE(m.development_field_id,
			(SELECT external_id FROM custom_fields
			 WHERE integration_id = $1 AND lower(name) = 'development' LIMIT 1)),
		    story_points_field_id = COALESCE(m.story_points_field_id,
			(SELECT external_id FROM custom_fields
			 WHERE integration_id = $1 AND lower(name) IN ('story points', 'story point estimate')
			 ORDER BY lower(name) LIMIT 1)),
		    last_updated_at = now()
		WHERE m.integration_id = $1`,
		integrationID)
	if err != nil {
		return fmt.Errorf("failed to auto-map special fields: %w", err)
	}
	return nil
}
