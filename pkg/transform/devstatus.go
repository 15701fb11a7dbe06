package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// DevStatusTransformer extracts pull request cross-references from a staged
// dev-status payload.
type DevStatusTransformer struct {
	logger    *zap.Logger
	workItems repositories.WorkItemRepository
	prLinks   repositories.PrLinkRepository
}

// NewDevStatusTransformer creates a dev-status transformer.
func NewDevStatusTransformer(logger *zap.Logger, workItems repositories.WorkItemRepository, prLinks repositories.PrLinkRepository) *DevStatusTransformer {
	return &DevStatusTransformer{
		logger:    logger.Named("transform.devstatus"),
		workItems: workItems,
		prLinks:   prLinks,
	}
}

var (
	anyNumberPattern = regexp.MustCompile(`(\d+)`)
	pullURLPattern   = regexp.MustCompile(`/pull/(\d+)`)
)

// Transform processes one staged dev-status payload.
func (t *DevStatusTransformer) Transform(ctx context.Context, msg *queue.Message, raw *models.RawExtractionData) ([]*queue.Message, error) {
	var payload jira.DevStatusRawPayload
	if err := json.Unmarshal(raw.RawData, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode dev-status payload: %w", err)
	}

	item, err := t.workItems.GetByExternalID(ctx, msg.IntegrationID, payload.IssueID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work item %s: %w", payload.IssueID, err)
	}

	existing, err := t.prLinks.ExistingKeys(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	var links []*models.WorkItemPrLink
	for _, detail := range payload.DevStatus.Detail {
		for _, pr := range detail.PullRequests {
			if pr.RepositoryID == "" || pr.RepositoryName == "" {
				continue
			}
			number, ok := prNumber(&pr)
			if !ok {
				continue
			}

			key := repositories.PrLinkKey(pr.RepositoryID, number)
			if existing[key] {
				continue
			}
			existing[key] = true

			link := &models.WorkItemPrLink{
				TenantID:          msg.TenantID,
				IntegrationID:     msg.IntegrationID,
				WorkItemID:        item.ID,
				ExternalRepoID:    pr.RepositoryID,
				RepoFullName:      pr.RepositoryName,
				PullRequestNumber: number,
				PrStatus:          pr.Status,
				Active:            true,
			}
			if pr.Source.Branch != "" {
				branch := pr.Source.Branch
				link.BranchName = &branch
			}
			if pr.CommitSHA != "" {
				sha := pr.CommitSHA
				link.CommitSHA = &sha
			}
			links = append(links, link)
		}
	}

	if err := t.prLinks.InsertNew(ctx, links); err != nil {
		return nil, err
	}

	t.logger.Debug("transformed dev status",
		zap.String("issue_key", payload.IssueKey),
		zap.Int("new_pr_links", len(links)))

	if len(links) == 0 {
		// Nothing inserted, but batch-position flags still have to travel
		// downstream.
		if msg.FirstItem || msg.LastItem || msg.LastJobItem {
			return []*queue.Message{msg.Marker(msg.FirstItem, msg.LastItem, msg.LastJobItem)}, nil
		}
		return nil, nil
	}

	out := make([]*queue.Message, 0, len(links))
	for i, link := range links {
		em := msg.Marker(i == 0 && msg.FirstItem, i == len(links)-1 && msg.LastItem, i == len(links)-1 && msg.LastJobItem)
		em.RawDataID = &raw.ID
		key := repositories.PrLinkKey(link.ExternalRepoID, link.PullRequestNumber)
		em.ExternalID = &key
		out = append(out, em)
	}
	return out, nil
}

// prNumber resolves the pull request number with a fallback chain: explicit
// field, integer id, first number in id or name, then /pull/<n> in the URL.
func prNumber(pr *jira.DevStatusPR) (int, bool) {
	if pr.PullRequestNumber != nil {
		return *pr.PullRequestNumber, true
	}
	if n, err := strconv.Atoi(pr.ID); err == nil {
		return n, true
	}
	for _, candidate := range []string{pr.ID, pr.Name} {
		if m := anyNumberPattern.FindStringSubmatch(candidate); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	if m := pullURLPattern.FindStringSubmatch(pr.URL); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}
