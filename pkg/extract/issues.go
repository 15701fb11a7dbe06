package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/logging"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/transform"
)

// IssueExtractor streams the incremental JQL search and fans out one staged
// row and one transform message per issue.
type IssueExtractor struct {
	logger    *zap.Logger
	clients   ClientFactory
	rawData   repositories.RawDataRepository
	reference repositories.ReferenceRepository
	router    *queue.Router
}

// NewIssueExtractor creates an issue extractor.
func NewIssueExtractor(logger *zap.Logger, clients ClientFactory, rawData repositories.RawDataRepository,
	reference repositories.ReferenceRepository, router *queue.Router) *IssueExtractor {
	return &IssueExtractor{
		logger:    logger.Named("extract.issues"),
		clients:   clients,
		rawData:   rawData,
		reference: reference,
		router:    router,
	}
}

// IssueRunResult summarizes one issue extraction run.
type IssueRunResult struct {
	IssuesProcessed     int
	ChangelogsProcessed int
	// DevCandidates are the issues whose mapped development field carried
	// data; the dev-status extractor visits exactly these.
	DevCandidates []DevCandidate
}

// countStatusChanges counts the status-transition entries in an issue's
// embedded changelog.
func countStatusChanges(issue *jira.Issue) int {
	if issue.Changelog == nil {
		return 0
	}
	n := 0
	for _, h := range issue.Changelog.Histories {
		for _, item := range h.Items {
			if item.Field == "status" {
				n++
				break
			}
		}
	}
	return n
}

// BuildJQL computes the incremental search clause: the base filter plus an
// updated-since window in whole days. A zero or future start yields -1d.
func BuildJQL(baseFilter string, lastSuccessAt *time.Time, customQuery string) string {
	if customQuery != "" {
		return customQuery
	}

	days := 1
	if lastSuccessAt != nil && !lastSuccessAt.IsZero() {
		elapsed := int(time.Since(*lastSuccessAt).Hours() / 24)
		if elapsed > days {
			days = elapsed
		}
	}

	window := fmt.Sprintf("updated >= -%dd", days)
	if baseFilter == "" {
		return window
	}
	return fmt.Sprintf("(%s) AND %s", baseFilter, window)
}

// Run streams every matching issue. The first issue of the run carries
// first_item, the final one last_item; last_job_item stays unset here and
// is emitted by the dev-status extraction that follows. A run with zero
// issues publishes a single completion marker.
func (e *IssueExtractor) Run(ctx context.Context, msg *queue.Message,
	integration *models.Integration, jql string) (*IssueRunResult, error) {

	client, err := e.clients.ClientFor(integration)
	if err != nil {
		return nil, err
	}

	mapping, err := e.reference.GetCustomFieldsMapping(ctx, integration.ID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		mapping = &models.CustomFieldsMapping{}
	}

	result := &IssueRunResult{}

	// One-message delay so the final publish can carry last_item.
	var pending *pendingIssue
	flush := func(last bool) error {
		if pending == nil {
			return nil
		}
		err := stageAndPublish(ctx, e.rawData, e.router, msg,
			models.TypeIssuesWithChangelogs, pending.issue,
			pending.first, last, false)
		pending = nil
		return err
	}

	err = client.SearchIssuesPages(ctx, jql, func(page *jira.SearchResponse) error {
		for i := range page.Issues {
			if err := flush(false); err != nil {
				return err
			}

			issue := page.Issues[i]
			pending = &pendingIssue{issue: issue, first: result.IssuesProcessed == 0}
			result.IssuesProcessed++
			result.ChangelogsProcessed += countStatusChanges(&issue)

			if mapping.DevelopmentFieldID != nil &&
				transform.DevelopmentFlag(issue.Fields.All[*mapping.DevelopmentFieldID]) {
				result.DevCandidates = append(result.DevCandidates, DevCandidate{
					ID:  issue.ID,
					Key: issue.Key,
				})
			}
		}
		e.logger.Debug("fetched issue page",
			zap.Int("page_size", len(page.Issues)),
			zap.Int("total", result.IssuesProcessed))
		return nil
	})
	if err != nil {
		// An aborted run still stages the issue held back for last_item;
		// everything the provider returned before the failure survives, and
		// the retried run re-pages from the same checkpoint.
		if ferr := flush(false); ferr != nil {
			e.logger.Warn("failed to stage trailing issue after aborted run", zap.Error(ferr))
		}
		return result, err
	}

	if result.IssuesProcessed == 0 {
		marker := msg.Marker(true, true, false)
		marker.Type = models.TypeIssuesWithChangelogs
		if err := e.router.Publish(ctx, queue.StepTransform, marker); err != nil {
			return result, err
		}
		e.logger.Info("issue run matched nothing", zap.String("jql", logging.SanitizeQuery(jql)))
		return result, nil
	}

	if err := flush(true); err != nil {
		return result, err
	}

	e.logger.Info("issue extraction complete",
		zap.Int("issues", result.IssuesProcessed),
		zap.Int("dev_candidates", len(result.DevCandidates)))
	return result, nil
}

type pendingIssue struct {
	issue jira.Issue
	first bool
}
