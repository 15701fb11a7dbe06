package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// ReferenceExtractor pulls projects with issue types, per-project statuses,
// and optionally the field catalogs.
type ReferenceExtractor struct {
	logger  *zap.Logger
	clients ClientFactory
	rawData repositories.RawDataRepository
	router  *queue.Router
}

// NewReferenceExtractor creates a reference data extractor.
func NewReferenceExtractor(logger *zap.Logger, clients ClientFactory,
	rawData repositories.RawDataRepository, router *queue.Router) *ReferenceExtractor {
	return &ReferenceExtractor{
		logger:  logger.Named("extract.reference"),
		clients: clients,
		rawData: rawData,
		router:  router,
	}
}

// specialFieldNames are the provider field names that feed the mapping's
// dedicated slots.
var specialFieldNames = map[string]bool{
	"sprint":               true,
	"development":          true,
	"story points":         true,
	"story point estimate": true,
}

// ExtractProjects stages the full project list with issue types and
// publishes one transform message for it. An empty project list publishes a
// completion marker instead.
func (e *ReferenceExtractor) ExtractProjects(ctx context.Context, msg *queue.Message,
	integration *models.Integration, targetProjects []string) ([]jira.ProjectPayload, error) {

	client, err := e.clients.ClientFor(integration)
	if err != nil {
		return nil, err
	}

	projects, err := client.SearchProjects(ctx, targetProjects)
	if err != nil {
		return nil, err
	}

	if len(projects) == 0 {
		e.logger.Info("no projects returned", zap.String("integration_id", integration.ID.String()))
		marker := msg.Marker(true, true, false)
		marker.Type = models.TypeProjectsAndIssueTypes
		return nil, e.router.Publish(ctx, queue.StepTransform, marker)
	}

	err = stageAndPublish(ctx, e.rawData, e.router, msg,
		models.TypeProjectsAndIssueTypes, projects, true, false, false)
	if err != nil {
		return nil, err
	}

	e.logger.Info("staged projects",
		zap.Int("projects", len(projects)),
		zap.String("integration_id", integration.ID.String()))
	return projects, nil
}

// ExtractStatuses stages one row per project's statuses-by-issue-type
// response. The final project carries last_item; projects with empty
// status responses publish flag markers so the batch position still
// travels downstream.
func (e *ReferenceExtractor) ExtractStatuses(ctx context.Context, msg *queue.Message,
	integration *models.Integration, projects []jira.ProjectPayload) error {

	client, err := e.clients.ClientFor(integration)
	if err != nil {
		return err
	}

	for i, project := range projects {
		last := i == len(projects)-1

		groups, err := client.ProjectStatuses(ctx, project.ID)
		if err != nil {
			return err
		}

		if len(groups) == 0 {
			marker := msg.Marker(false, last, false)
			marker.Type = models.TypeStatusesAndRelationships
			if err := e.router.Publish(ctx, queue.StepTransform, marker); err != nil {
				return err
			}
			continue
		}

		payload := jira.ProjectStatusesPayload{
			ProjectID:  project.ID,
			ProjectKey: project.Key,
			IssueTypes: groups,
		}
		err = stageAndPublish(ctx, e.rawData, e.router, msg,
			models.TypeStatusesAndRelationships, payload, false, last, false)
		if err != nil {
			return err
		}
	}
	return nil
}

// ExtractFields stages the custom-field catalog and the special-field
// subset. This step is user-initiated, not part of the scheduled cycle.
func (e *ReferenceExtractor) ExtractFields(ctx context.Context, msg *queue.Message, integration *models.Integration) error {
	client, err := e.clients.ClientFor(integration)
	if err != nil {
		return err
	}

	fields, err := client.SearchFields(ctx)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	err = stageAndPublish(ctx, e.rawData, e.router, msg,
		models.TypeCustomFields, fields, false, false, false)
	if err != nil {
		return err
	}

	var special []jira.FieldPayload
	for _, f := range fields {
		if specialFieldNames[strings.ToLower(f.Name)] {
			special = append(special, f)
		}
	}
	if len(special) == 0 {
		return nil
	}
	return stageAndPublish(ctx, e.rawData, e.router, msg,
		models.TypeSpecialFields, special, false, false, false)
}
