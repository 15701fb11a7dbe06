package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/extract"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"

	"github.com/google/uuid"
)

// ExecutionMode selects which extractors a sync run dispatches.
type ExecutionMode string

const (
	ModeIssueTypes  ExecutionMode = "issuetypes"
	ModeStatuses    ExecutionMode = "statuses"
	ModeIssues      ExecutionMode = "issues"
	ModeCustomQuery ExecutionMode = "custom_query"
	ModeAll         ExecutionMode = "all"
)

// Valid reports whether the mode is one of the dispatchable values.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeIssueTypes, ModeStatuses, ModeIssues, ModeCustomQuery, ModeAll:
		return true
	}
	return false
}

// ModeForJobName maps a schedule's job name to the execution mode the
// scheduler dispatches for it. Unrecognized names run the full pipeline.
func ModeForJobName(jobName string) ExecutionMode {
	name := strings.ToLower(jobName)
	switch {
	case strings.Contains(name, "issuetypes"):
		return ModeIssueTypes
	case strings.Contains(name, "statuses"):
		return ModeStatuses
	case strings.Contains(name, "issues"):
		return ModeIssues
	}
	return ModeAll
}

// SyncRequest is one run_sync invocation.
type SyncRequest struct {
	JobScheduleID  uuid.UUID     `json:"job_schedule_id"`
	Mode           ExecutionMode `json:"execution_mode"`
	CustomQuery    string        `json:"custom_query,omitempty"`
	TargetProjects []string      `json:"target_projects,omitempty"`
}

// SyncResult is the outcome of a sync run. The counts are extraction-side:
// they count staged units, not rows the async transform step has landed yet.
type SyncResult struct {
	Success             bool   `json:"success"`
	IssuesProcessed     int    `json:"issues_processed"`
	ChangelogsProcessed int    `json:"changelogs_processed"`
	PrLinksCreated      int    `json:"pr_links_created"`
	Error               string `json:"error,omitempty"`
}

// The extractor surfaces the sync service drives. Satisfied by pkg/extract;
// narrowed here so tests can fake them.
type referenceExtractor interface {
	ExtractProjects(ctx context.Context, msg *queue.Message, integration *models.Integration, targetProjects []string) ([]jira.ProjectPayload, error)
	ExtractStatuses(ctx context.Context, msg *queue.Message, integration *models.Integration, projects []jira.ProjectPayload) error
	ExtractFields(ctx context.Context, msg *queue.Message, integration *models.Integration) error
}

type issueExtractor interface {
	Run(ctx context.Context, msg *queue.Message, integration *models.Integration, jql string) (*extract.IssueRunResult, error)
}

type devStatusExtractor interface {
	Run(ctx context.Context, msg *queue.Message, integration *models.Integration, candidates []extract.DevCandidate) (int, error)
}

// SyncService owns one sync run end to end: it drives the schedule state
// machine and dispatches the extractors for the requested mode. Extraction
// failures end the run but are reported in the result, not returned; only
// pre-dispatch failures (bad request, missing schedule) come back as errors.
type SyncService struct {
	logger       *zap.Logger
	schedules    repositories.JobScheduleRepository
	integrations repositories.IntegrationRepository
	reference    referenceExtractor
	issues       issueExtractor
	devStatus    devStatusExtractor
	status       *StatusService
	// now is swapped out in tests.
	now func() time.Time
}

// NewSyncService creates the sync run service.
func NewSyncService(logger *zap.Logger, schedules repositories.JobScheduleRepository,
	integrations repositories.IntegrationRepository, reference referenceExtractor,
	issues issueExtractor, devStatus devStatusExtractor, status *StatusService) *SyncService {
	return &SyncService{
		logger:       logger.Named("sync"),
		schedules:    schedules,
		integrations: integrations,
		reference:    reference,
		issues:       issues,
		devStatus:    devStatus,
		status:       status,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RunSync executes one sync run for a schedule.
func (s *SyncService) RunSync(ctx context.Context, req *SyncRequest) (*SyncResult, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("unknown execution mode %q", req.Mode)
	}
	if req.Mode == ModeCustomQuery && req.CustomQuery == "" {
		return nil, fmt.Errorf("execution mode %q requires a custom query", ModeCustomQuery)
	}

	schedule, err := s.schedules.Get(ctx, req.JobScheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job schedule %s: %w", req.JobScheduleID, err)
	}
	integration, err := s.integrations.Get(ctx, schedule.IntegrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load integration %s: %w", schedule.IntegrationID, err)
	}

	startedAt := s.now()
	if err := s.schedules.MarkRunning(ctx, schedule.ID, startedAt); err != nil {
		return nil, err
	}

	// The run's start truncated to the minute becomes the next incremental
	// window boundary once the run succeeds.
	newSyncDate := startedAt.Truncate(time.Minute)
	msg := &queue.Message{
		TenantID:        schedule.TenantID,
		IntegrationID:   integration.ID,
		JobID:           schedule.ID,
		Token:           queue.NewToken(),
		Provider:        integration.Provider,
		OldLastSyncDate: schedule.LastSuccessAt,
		NewLastSyncDate: &newSyncDate,
	}

	if err := s.status.JobStarted(ctx, msg); err != nil {
		s.logger.Warn("failed to record job start", zap.String("job_id", schedule.ID.String()), zap.Error(err))
	}

	s.logger.Info("sync run started",
		zap.String("job_id", schedule.ID.String()),
		zap.String("mode", string(req.Mode)),
		zap.String("integration_id", integration.ID.String()))

	result := &SyncResult{}
	if runErr := s.dispatch(ctx, req, schedule, integration, msg, result); runErr != nil {
		return result, s.closeFailed(ctx, msg, runErr, result)
	}

	if err := s.status.ExtractionFinished(ctx, msg, result.IssuesProcessed); err != nil {
		s.logger.Warn("failed to record extraction finish", zap.String("job_id", schedule.ID.String()), zap.Error(err))
	}
	if err := s.schedules.MarkFinished(ctx, schedule.ID, startedAt); err != nil {
		return result, err
	}
	if err := s.status.JobClosed(ctx, msg, models.JobStatusFinished, ""); err != nil {
		s.logger.Warn("failed to record job finish", zap.String("job_id", schedule.ID.String()), zap.Error(err))
	}

	result.Success = true
	s.logger.Info("sync run finished",
		zap.String("job_id", schedule.ID.String()),
		zap.Int("issues", result.IssuesProcessed),
		zap.Int("changelogs", result.ChangelogsProcessed),
		zap.Int("pr_links", result.PrLinksCreated))
	return result, nil
}

func (s *SyncService) dispatch(ctx context.Context, req *SyncRequest, schedule *models.JobSchedule,
	integration *models.Integration, msg *queue.Message, result *SyncResult) error {

	switch req.Mode {
	case ModeIssueTypes:
		_, err := s.reference.ExtractProjects(ctx, msg, integration, req.TargetProjects)
		return err

	case ModeStatuses:
		projects, err := s.reference.ExtractProjects(ctx, msg, integration, req.TargetProjects)
		if err != nil || len(projects) == 0 {
			return err
		}
		return s.reference.ExtractStatuses(ctx, msg, integration, projects)

	case ModeIssues:
		return s.runIssues(ctx, schedule, integration, msg, "", result)

	case ModeCustomQuery:
		return s.runIssues(ctx, schedule, integration, msg, req.CustomQuery, result)

	case ModeAll:
		projects, err := s.reference.ExtractProjects(ctx, msg, integration, req.TargetProjects)
		if err != nil {
			return err
		}
		if len(projects) > 0 {
			if err := s.reference.ExtractStatuses(ctx, msg, integration, projects); err != nil {
				return err
			}
		}
		if err := s.reference.ExtractFields(ctx, msg, integration); err != nil {
			return err
		}
		return s.runIssues(ctx, schedule, integration, msg, "", result)
	}
	return fmt.Errorf("unknown execution mode %q", req.Mode)
}

func (s *SyncService) runIssues(ctx context.Context, schedule *models.JobSchedule,
	integration *models.Integration, msg *queue.Message, customQuery string, result *SyncResult) error {

	jql := extract.BuildJQL(integration.BaseSearchFilter, schedule.LastSuccessAt, customQuery)
	run, err := s.issues.Run(ctx, msg, integration, jql)
	if run != nil {
		result.IssuesProcessed = run.IssuesProcessed
		result.ChangelogsProcessed = run.ChangelogsProcessed
	}
	if err != nil {
		return err
	}

	links, err := s.devStatus.Run(ctx, msg, integration, run.DevCandidates)
	result.PrLinksCreated = links
	return err
}

// closeFailed applies the failure policy for a run that broke during
// dispatch: rate limits park the schedule, everything else fails it. The
// cause travels back in the result, not as an error.
func (s *SyncService) closeFailed(ctx context.Context, msg *queue.Message, cause error, result *SyncResult) error {
	result.Error = cause.Error()

	if rle, ok := apperrors.AsRateLimit(cause); ok {
		s.logger.Warn("sync run hit provider rate limit",
			zap.String("job_id", msg.JobID.String()),
			zap.Time("reset_at", rle.ResetAt))
		if err := s.schedules.MarkRateLimited(ctx, msg.JobID, rle.ResetAt); err != nil {
			return err
		}
		return s.status.JobClosed(ctx, msg, models.JobStatusRateLimitReached, cause.Error())
	}

	s.logger.Error("sync run failed",
		zap.String("job_id", msg.JobID.String()),
		zap.Error(cause))
	if err := s.schedules.MarkFailed(ctx, msg.JobID, cause.Error()); err != nil {
		return err
	}
	return s.status.JobClosed(ctx, msg, models.JobStatusFailed, cause.Error())
}
