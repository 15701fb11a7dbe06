package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// IssueTransformer normalizes one staged issue: the work item row, its
// sprint associations, its changelog chain, and the derived workflow
// metrics.
type IssueTransformer struct {
	logger     *zap.Logger
	reference  repositories.ReferenceRepository
	workItems  repositories.WorkItemRepository
	changelogs repositories.ChangelogRepository
	sprints    repositories.SprintRepository
}

// NewIssueTransformer creates an issue transformer.
func NewIssueTransformer(logger *zap.Logger, reference repositories.ReferenceRepository,
	workItems repositories.WorkItemRepository, changelogs repositories.ChangelogRepository,
	sprints repositories.SprintRepository) *IssueTransformer {
	return &IssueTransformer{
		logger:     logger.Named("transform.issues"),
		reference:  reference,
		workItems:  workItems,
		changelogs: changelogs,
		sprints:    sprints,
	}
}

// Transform processes one staged issue payload.
func (t *IssueTransformer) Transform(ctx context.Context, msg *queue.Message, raw *models.RawExtractionData) ([]*queue.Message, error) {
	var issue jira.Issue
	if err := json.Unmarshal(raw.RawData, &issue); err != nil {
		return nil, fmt.Errorf("failed to decode issue payload: %w", err)
	}

	projectIDs, err := t.reference.ProjectIDsByExternalID(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}
	witIDs, err := t.reference.WitIDsByExternalID(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}
	statusIDs, err := t.reference.StatusIDsByExternalID(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}

	mapping, err := t.reference.GetCustomFieldsMapping(ctx, msg.IntegrationID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		mapping = &models.CustomFieldsMapping{}
	}

	item := t.buildWorkItem(msg, &issue, mapping, projectIDs, witIDs, statusIDs)

	existing, err := t.workItems.MapByExternalIDs(ctx, msg.IntegrationID, []string{issue.ID})
	if err != nil {
		return nil, err
	}
	if id, ok := existing[issue.ID]; ok {
		item.ID = id
		if err := t.workItems.Update(ctx, []*models.WorkItem{item}); err != nil {
			return nil, err
		}
		if item.Development {
			if err := t.workItems.SetDevelopment(ctx, []uuid.UUID{item.ID}, true); err != nil {
				return nil, err
			}
		}
	} else {
		if err := t.workItems.Insert(ctx, []*models.WorkItem{item}); err != nil {
			return nil, err
		}
	}

	if err := t.associateSprints(ctx, msg, item, &issue.Fields, mapping); err != nil {
		return nil, err
	}

	inserted, err := t.applyChangelog(ctx, item, &issue, statusIDs)
	if err != nil {
		return nil, err
	}

	chain, err := t.changelogs.ListByWorkItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	categories, err := t.reference.StatusCategories(ctx, msg.IntegrationID)
	if err != nil {
		return nil, err
	}
	if err := t.workItems.UpdateMetrics(ctx, item.ID, ComputeMetrics(chain, categories)); err != nil {
		return nil, err
	}

	t.logger.Debug("transformed issue",
		zap.String("key", issue.Key),
		zap.Int("new_changelogs", inserted))

	em := msg.Marker(msg.FirstItem, msg.LastItem, msg.LastJobItem)
	em.RawDataID = &raw.ID
	externalID := issue.ID
	em.ExternalID = &externalID
	return []*queue.Message{em}, nil
}

func (t *IssueTransformer) buildWorkItem(msg *queue.Message, issue *jira.Issue,
	mapping *models.CustomFieldsMapping, projectIDs, witIDs, statusIDs map[string]uuid.UUID) *models.WorkItem {
	fields := &issue.Fields

	item := &models.WorkItem{
		TenantID:      msg.TenantID,
		IntegrationID: msg.IntegrationID,
		ExternalID:    issue.ID,
		Key:           issue.Key,
		Summary:       fields.Summary,
		Description:   FlattenFieldValue(fields.Description),
		Labels:        strings.Join(fields.Labels, ","),
		Created:       fields.Created.Time,
		Updated:       fields.Updated.Time,
		Active:        true,
	}

	if fields.Project != nil {
		if id, ok := projectIDs[fields.Project.ID]; ok {
			item.ProjectID = &id
		}
	}
	if fields.IssueType != nil {
		if id, ok := witIDs[fields.IssueType.ID]; ok {
			item.WitID = &id
		}
	}
	if fields.Status != nil {
		if id, ok := statusIDs[fields.Status.ID]; ok {
			item.StatusID = &id
		}
	}
	if fields.Priority != nil {
		item.Priority = fields.Priority.Name
	}
	if fields.Resolution != nil {
		item.Resolution = fields.Resolution.Name
	}
	if fields.Assignee != nil {
		item.Assignee = fields.Assignee.DisplayName
	}
	if fields.Parent != nil {
		parentID := fields.Parent.ID
		item.ParentExternalID = &parentID
	}

	if mapping.TeamFieldID != nil {
		item.Team = FlattenFieldValue(fields.All[*mapping.TeamFieldID])
	}
	if mapping.DevelopmentFieldID != nil {
		item.Development = DevelopmentFlag(fields.All[*mapping.DevelopmentFieldID])
	}
	if mapping.StoryPointsFieldID != nil {
		item.StoryPoints = StoryPoints(fields.All[*mapping.StoryPointsFieldID])
	}
	for i, fieldID := range mapping.CustomFieldIDs {
		if fieldID != nil {
			item.CustomFields[i] = FlattenFieldValue(fields.All[*fieldID])
		}
	}
	return item
}

// associateSprints upserts the sprints referenced by the mapped sprints
// field and links them to the work item. Concurrent workers racing on the
// same sprint resolve through the upsert.
func (t *IssueTransformer) associateSprints(ctx context.Context, msg *queue.Message,
	item *models.WorkItem, fields *jira.IssueFields, mapping *models.CustomFieldsMapping) error {
	if mapping.SprintsFieldID == nil {
		return nil
	}

	entries := SprintEntries(fields.All[*mapping.SprintsFieldID])
	if len(entries) == 0 {
		return nil
	}

	sprints := make([]*models.Sprint, 0, len(entries))
	for _, e := range entries {
		sprints = append(sprints, &models.Sprint{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    e.ExternalID,
			BoardID:       e.BoardID,
			Name:          e.Name,
			State:         e.State,
			Active:        true,
		})
	}
	ids, err := t.sprints.UpsertSprints(ctx, sprints)
	if err != nil {
		return err
	}

	links := make([]models.WorkItemSprint, 0, len(entries))
	for _, e := range entries {
		sprintID, ok := ids[e.ExternalID]
		if !ok {
			continue
		}
		links = append(links, models.WorkItemSprint{
			WorkItemID: item.ID,
			SprintID:   sprintID,
			AddedDate:  item.Created,
			TenantID:   msg.TenantID,
			Active:     true,
		})
	}
	return t.sprints.LinkWorkItems(ctx, links)
}

// applyChangelog builds the status transition chain from the issue's
// histories and inserts the rows not yet stored. The chain is contiguous:
// each row starts where the previous one changed, and the first row starts
// at the work item's created timestamp.
func (t *IssueTransformer) applyChangelog(ctx context.Context,
	item *models.WorkItem, issue *jira.Issue, statusIDs map[string]uuid.UUID) (int, error) {
	if issue.Changelog == nil || len(issue.Changelog.Histories) == 0 {
		return 0, nil
	}

	existing, err := t.changelogs.ExistingExternalIDs(ctx, []uuid.UUID{item.ID})
	if err != nil {
		return 0, err
	}

	entries := BuildChangelogEntries(item, issue.Changelog.Histories, statusIDs, existing[item.ID])
	if err := t.changelogs.BulkInsert(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// BuildChangelogEntries turns an issue's histories into the contiguous
// status transition chain. Histories are processed in chronological order;
// only status items count. Entries whose external id is in seen are skipped,
// but they still advance the chain cursor so later rows keep their correct
// start dates.
func BuildChangelogEntries(item *models.WorkItem, histories []jira.History,
	statusIDs map[string]uuid.UUID, seen map[string]bool) []*models.Changelog {
	sorted := make([]jira.History, len(histories))
	copy(sorted, histories)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Created.Before(sorted[j].Created.Time)
	})

	var entries []*models.Changelog
	cursor := item.Created
	for _, h := range sorted {
		var statusItem *jira.HistoryItem
		for i := range h.Items {
			if h.Items[i].Field == "status" {
				statusItem = &h.Items[i]
				break
			}
		}
		if statusItem == nil {
			continue
		}

		start := cursor
		cursor = h.Created.Time

		if seen[h.ID] {
			continue
		}

		entry := &models.Changelog{
			TenantID:             item.TenantID,
			IntegrationID:        item.IntegrationID,
			WorkItemID:           item.ID,
			ExternalID:           h.ID,
			TransitionStartDate:  start,
			TransitionChangeDate: h.Created.Time,
			TimeInStatusSeconds:  h.Created.Sub(start).Seconds(),
			Active:               true,
		}
		if id, ok := statusIDs[statusItem.From]; ok {
			fromID := id
			entry.FromStatusID = &fromID
		}
		if id, ok := statusIDs[statusItem.To]; ok {
			toID := id
			entry.ToStatusID = &toID
		}
		if h.Author != nil {
			entry.ChangedBy = h.Author.DisplayName
		}
		entries = append(entries, entry)
	}
	return entries
}
