// Package services hosts the control-plane orchestration: the sync run
// dispatcher, the job scheduler, and the status document service.
package services

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/status"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/transform"
)

// Step progress states within a status document.
const (
	stepPending  = "pending"
	stepRunning  = "running"
	stepFinished = "finished"
	stepFailed   = "failed"
)

// StatusService maintains the JobSchedule status document: every mutation is
// persisted on the schedule row and shipped wholesale to the relay, so a UI
// refreshing from the database sees the exact shape it receives live.
type StatusService struct {
	logger      *zap.Logger
	schedules   repositories.JobScheduleRepository
	broadcaster *status.Broadcaster
	// now is swapped out in tests.
	now func() time.Time
}

// NewStatusService creates the status document service.
func NewStatusService(logger *zap.Logger, schedules repositories.JobScheduleRepository,
	broadcaster *status.Broadcaster) *StatusService {
	return &StatusService{
		logger:      logger.Named("status"),
		schedules:   schedules,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ transform.StatusReporter = (*StatusService)(nil)

// JobStarted initializes the document for a fresh run: extraction running,
// the downstream steps pending.
func (s *StatusService) JobStarted(ctx context.Context, msg *queue.Message) error {
	startedAt := s.now()
	return s.update(ctx, msg, func(doc *status.Document) {
		doc.Status = string(models.JobStatusRunning)
		doc.Error = ""
		doc.Steps = map[string]status.StepProgress{
			string(queue.StepExtraction): {Status: stepRunning, StartedAt: &startedAt},
			string(queue.StepTransform):  {Status: stepPending},
			string(queue.StepEmbedding):  {Status: stepPending},
		}
	})
}

// ExtractionFinished closes the extraction step and opens transform.
func (s *StatusService) ExtractionFinished(ctx context.Context, msg *queue.Message, processed int) error {
	endedAt := s.now()
	return s.update(ctx, msg, func(doc *status.Document) {
		extraction := doc.Steps[string(queue.StepExtraction)]
		extraction.Status = stepFinished
		extraction.Processed = processed
		extraction.EndedAt = &endedAt
		doc.Steps[string(queue.StepExtraction)] = extraction

		next := doc.Steps[string(queue.StepTransform)]
		if next.Status == stepPending {
			next.Status = stepRunning
			next.StartedAt = &endedAt
			doc.Steps[string(queue.StepTransform)] = next
		}
	})
}

// StepFinished marks the downstream steps done. The transform dispatcher
// calls this when a fan-out terminates with nothing left to publish.
func (s *StatusService) StepFinished(ctx context.Context, msg *queue.Message) error {
	endedAt := s.now()
	return s.update(ctx, msg, func(doc *status.Document) {
		for _, step := range []queue.Step{queue.StepTransform, queue.StepEmbedding} {
			progress := doc.Steps[string(step)]
			if progress.Status == stepFinished {
				continue
			}
			progress.Status = stepFinished
			progress.EndedAt = &endedAt
			doc.Steps[string(step)] = progress
		}
	})
}

// JobClosed records the terminal schedule state on the document. A non-empty
// errMsg marks the currently running step failed.
func (s *StatusService) JobClosed(ctx context.Context, msg *queue.Message, jobStatus models.JobStatus, errMsg string) error {
	return s.update(ctx, msg, func(doc *status.Document) {
		doc.Status = string(jobStatus)
		doc.Error = errMsg
		if errMsg == "" {
			return
		}
		for name, progress := range doc.Steps {
			if progress.Status == stepRunning {
				progress.Status = stepFailed
				doc.Steps[name] = progress
			}
		}
	})
}

// update loads the schedule's document, applies the mutation, persists it,
// and broadcasts the full snapshot.
func (s *StatusService) update(ctx context.Context, msg *queue.Message, mutate func(*status.Document)) error {
	schedule, err := s.schedules.Get(ctx, msg.JobID)
	if err != nil {
		return err
	}

	doc := &status.Document{}
	if len(schedule.StatusDoc) > 0 {
		if err := json.Unmarshal(schedule.StatusDoc, doc); err != nil {
			s.logger.Warn("discarding unreadable status document",
				zap.String("job_id", schedule.ID.String()), zap.Error(err))
			doc = &status.Document{}
		}
	}
	if doc.Steps == nil {
		doc.Steps = make(map[string]status.StepProgress)
	}

	doc.JobID = schedule.ID
	doc.TenantID = schedule.TenantID
	doc.IntegrationID = schedule.IntegrationID
	if msg.Token != "" {
		doc.Token = msg.Token
	}

	mutate(doc)
	doc.UpdatedAt = s.now()

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.schedules.UpdateStatusDoc(ctx, schedule.ID, data); err != nil {
		return err
	}

	s.broadcaster.Publish(doc)
	return nil
}
