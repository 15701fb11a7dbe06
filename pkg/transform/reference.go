package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// ReferenceTransformer normalizes projects, issue types, statuses, and the
// custom-field catalog.
type ReferenceTransformer struct {
	logger    *zap.Logger
	reference repositories.ReferenceRepository
	reporter  StatusReporter
}

// NewReferenceTransformer creates a reference data transformer. reporter may
// be nil.
func NewReferenceTransformer(logger *zap.Logger, reference repositories.ReferenceRepository, reporter StatusReporter) *ReferenceTransformer {
	return &ReferenceTransformer{
		logger:    logger.Named("transform.reference"),
		reference: reference,
		reporter:  reporter,
	}
}

// TransformProjects upserts a page of projects with their issue types.
// Issue types repeating across projects are deduplicated globally by
// external_id before the upsert.
func (t *ReferenceTransformer) TransformProjects(ctx context.Context, msg *queue.Message, raw *models.RawExtractionData) ([]*queue.Message, error) {
	var projects []jira.ProjectPayload
	if err := json.Unmarshal(raw.RawData, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode projects payload: %w", err)
	}

	projectIDs, err := t.reference.ProjectIDsByExternalID(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}
	witIDs, err := t.reference.WitIDsByExternalID(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}
	witMappings, err := t.reference.WitMappingIDs(ctx, msg.TenantID)
	if err != nil {
		return nil, err
	}

	var insertProjects, updateProjects []*models.Project
	for _, p := range projects {
		project := &models.Project{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    p.ID,
			Key:           p.Key,
			Name:          p.Name,
			ProjectType:   p.ProjectTypeKey,
			Active:        true,
		}
		if id, ok := projectIDs[p.ID]; ok {
			project.ID = id
			updateProjects = append(updateProjects, project)
		} else {
			insertProjects = append(insertProjects, project)
		}
	}
	if err := t.reference.InsertProjects(ctx, insertProjects); err != nil {
		return nil, err
	}
	if err := t.reference.UpdateProjects(ctx, updateProjects); err != nil {
		return nil, err
	}
	for _, p := range insertProjects {
		projectIDs[p.ExternalID] = p.ID
	}

	var insertWits, updateWits []*models.Wit
	seen := make(map[string]bool)
	for _, p := range projects {
		for _, it := range p.IssueTypes {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true

			wit := &models.Wit{
				TenantID:       msg.TenantID,
				IntegrationID:  msg.IntegrationID,
				ExternalID:     it.ID,
				OriginalName:   it.Name,
				Description:    it.Description,
				HierarchyLevel: it.HierarchyLevel,
				Active:         true,
			}
			if mappingID, ok := witMappings[strings.ToLower(it.Name)]; ok {
				id := mappingID
				wit.MappingID = &id
			}
			if id, ok := witIDs[it.ID]; ok {
				wit.ID = id
				updateWits = append(updateWits, wit)
			} else {
				insertWits = append(insertWits, wit)
			}
		}
	}
	if err := t.reference.InsertWits(ctx, insertWits); err != nil {
		return nil, err
	}
	if err := t.reference.UpdateWits(ctx, updateWits); err != nil {
		return nil, err
	}
	for _, w := range insertWits {
		witIDs[w.ExternalID] = w.ID
	}

	var edges []models.ProjectWit
	for _, p := range projects {
		projectID, ok := projectIDs[p.ID]
		if !ok {
			continue
		}
		for _, it := range p.IssueTypes {
			if witID, ok := witIDs[it.ID]; ok {
				edges = append(edges, models.ProjectWit{
					ProjectID: projectID,
					WitID:     witID,
					TenantID:  msg.TenantID,
				})
			}
		}
	}
	if err := t.reference.LinkProjectWits(ctx, edges); err != nil {
		return nil, err
	}

	if err := t.reference.AutoMapSpecialFields(ctx, msg.IntegrationID); err != nil {
		return nil, err
	}

	t.logger.Info("transformed projects page",
		zap.Int("projects", len(projects)),
		zap.Int("new_wits", len(insertWits)))
	return nil, nil
}

// TransformStatuses normalizes one project's statuses and project edges.
// On the final project of the run it fans out one embedding message per
// status updated during the run.
func (t *ReferenceTransformer) TransformStatuses(ctx context.Context, msg *queue.Message, raw *models.RawExtractionData) ([]*queue.Message, error) {
	var payload jira.ProjectStatusesPayload
	if err := json.Unmarshal(raw.RawData, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode statuses payload: %w", err)
	}

	statusIDs, err := t.reference.StatusIDsByExternalID(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}
	statusMappings, err := t.reference.StatusMappingIDs(ctx, msg.TenantID)
	if err != nil {
		return nil, err
	}
	projectIDs, err := t.reference.ProjectIDsByExternalID(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}

	var insert, update []*models.Status
	distinct := make(map[string]*models.Status)
	for _, it := range payload.IssueTypes {
		for i := range it.Statuses {
			s := &it.Statuses[i]
			if _, ok := distinct[s.ID]; ok {
				continue
			}

			status := &models.Status{
				TenantID:      msg.TenantID,
				IntegrationID: msg.IntegrationID,
				ExternalID:    s.ID,
				OriginalName:  s.Name,
				Category:      s.Category(),
				Description:   s.Description,
				Active:        true,
			}
			if mappingID, ok := statusMappings[strings.ToLower(s.Name)]; ok {
				id := mappingID
				status.MappingID = &id
			}
			distinct[s.ID] = status

			if id, ok := statusIDs[s.ID]; ok {
				status.ID = id
				update = append(update, status)
			} else {
				insert = append(insert, status)
			}
		}
	}
	if err := t.reference.InsertStatuses(ctx, insert); err != nil {
		return nil, err
	}
	if err := t.reference.UpdateStatuses(ctx, update); err != nil {
		return nil, err
	}
	for _, s := range insert {
		statusIDs[s.ExternalID] = s.ID
	}

	if projectID, ok := projectIDs[payload.ProjectID]; ok {
		var edges []models.ProjectStatus
		for externalID := range distinct {
			if statusID, ok := statusIDs[externalID]; ok {
				edges = append(edges, models.ProjectStatus{
					ProjectID: projectID,
					StatusID:  statusID,
					TenantID:  msg.TenantID,
				})
			}
		}
		if err := t.reference.LinkProjectStatuses(ctx, edges); err != nil {
			return nil, err
		}
	} else {
		t.logger.Warn("statuses payload references unknown project",
			zap.String("project_key", payload.ProjectKey))
	}

	if !msg.LastItem {
		return nil, nil
	}
	return t.fanOutStatuses(ctx, msg, raw)
}

// fanOutStatuses emits one embedding message per status touched during the
// run. When nothing changed, the job's step is finished directly without
// publishing.
func (t *ReferenceTransformer) fanOutStatuses(ctx context.Context, msg *queue.Message, raw *models.RawExtractionData) ([]*queue.Message, error) {
	if msg.NewLastSyncDate == nil {
		return nil, nil
	}

	updated, err := t.reference.StatusesUpdatedSince(ctx, msg.IntegrationID, *msg.NewLastSyncDate)
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		if t.reporter != nil {
			if err := t.reporter.StepFinished(ctx, msg); err != nil {
				t.logger.Warn("failed to report step finished", zap.Error(err))
			}
		}
		return nil, nil
	}

	out := make([]*queue.Message, 0, len(updated))
	for i, s := range updated {
		em := msg.Marker(i == 0 && msg.FirstItem, i == len(updated)-1, i == len(updated)-1 && msg.LastJobItem)
		em.RawDataID = &raw.ID
		externalID := s.ExternalID
		em.ExternalID = &externalID
		out = append(out, em)
	}
	return out, nil
}

// TransformCustomFields upserts the custom-field catalog and refreshes the
// special-field slots of the integration's mapping.
func (t *ReferenceTransformer) TransformCustomFields(ctx context.Context, msg *queue.Message, raw *models.RawExtractionData) ([]*queue.Message, error) {
	var payload []jira.FieldPayload
	if err := json.Unmarshal(raw.RawData, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode fields payload: %w", err)
	}

	fields := make([]*models.CustomField, 0, len(payload))
	for _, f := range payload {
		fields = append(fields, &models.CustomField{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    f.ID,
			Name:          f.Name,
			FieldType:     f.Schema.Type,
			Operations:    f.Schema.Custom,
			Active:        true,
		})
	}
	if err := t.reference.UpsertCustomFields(ctx, fields); err != nil {
		return nil, err
	}

	if err := t.reference.AutoMapSpecialFields(ctx, msg.IntegrationID); err != nil {
		// Mapping row may not exist yet for a fresh integration.
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
