package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// DevStatusExtractor fetches the source-control activity index for the
// issues flagged as development candidates.
type DevStatusExtractor struct {
	logger  *zap.Logger
	clients ClientFactory
	rawData repositories.RawDataRepository
	router  *queue.Router
}

// NewDevStatusExtractor creates a dev-status extractor.
func NewDevStatusExtractor(logger *zap.Logger, clients ClientFactory,
	rawData repositories.RawDataRepository, router *queue.Router) *DevStatusExtractor {
	return &DevStatusExtractor{
		logger:  logger.Named("extract.devstatus"),
		clients: clients,
		rawData: rawData,
		router:  router,
	}
}

// Run visits every candidate. The final emission of the run carries
// last_job_item, closing out the whole job; with no candidates at all a
// single marker closes it instead. A rate-limit error from the provider
// aborts the loop immediately and propagates to the caller, which parks
// the schedule.
func (e *DevStatusExtractor) Run(ctx context.Context, msg *queue.Message,
	integration *models.Integration, candidates []DevCandidate) (int, error) {

	if len(candidates) == 0 {
		marker := msg.Marker(false, false, true)
		marker.Type = models.TypeDevStatus
		return 0, e.router.Publish(ctx, queue.StepTransform, marker)
	}

	client, err := e.clients.ClientFor(integration)
	if err != nil {
		return 0, err
	}

	persisted := 0

	// One-emission delay so the final one can carry last_job_item.
	var pending *pendingDevStatus
	flush := func(lastJob bool) error {
		if pending == nil {
			return nil
		}
		p := pending
		pending = nil

		if p.payload == nil {
			marker := msg.Marker(false, false, lastJob)
			marker.Type = models.TypeDevStatus
			return e.router.Publish(ctx, queue.StepTransform, marker)
		}
		return stageAndPublish(ctx, e.rawData, e.router, msg,
			models.TypeDevStatus, p.payload, false, false, lastJob)
	}

	for _, candidate := range candidates {
		resp, err := client.DevStatus(ctx, candidate.ID)
		if err != nil {
			return persisted, err
		}

		if err := flush(false); err != nil {
			return persisted, err
		}

		if !resp.HasUsefulData() {
			// Nothing to persist; a marker still closes the batch position.
			pending = &pendingDevStatus{}
			continue
		}

		pending = &pendingDevStatus{payload: &jira.DevStatusRawPayload{
			IssueID:   candidate.ID,
			IssueKey:  candidate.Key,
			DevStatus: *resp,
		}}
		persisted++
	}

	if err := flush(true); err != nil {
		return persisted, err
	}

	e.logger.Info("dev-status extraction complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("persisted", persisted))
	return persisted, nil
}

type pendingDevStatus struct {
	payload *jira.DevStatusRawPayload
}
