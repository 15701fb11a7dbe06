// Package workers runs the tier-sized shared pools that consume the step
// queues, and the retry middleware that owns message redelivery.
package workers

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// HandlerFunc processes one consumed envelope. Handlers are plain functions
// returning an error; retry counting, republish, and dead-lettering live in
// the middleware.
type HandlerFunc func(ctx context.Context, msg *queue.Message) error

// RetryMiddleware wraps a handler with the per-message failure policy:
// transient errors republish with retry_count incremented after an
// in-process backoff delay, exhausted messages dead-letter and fail the
// job, and rate limits park the schedule without retry or DLQ.
type RetryMiddleware struct {
	logger     *zap.Logger
	router     *queue.Router
	failures   repositories.FailureRepository
	schedules  repositories.JobScheduleRepository
	maxRetries int
	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewRetryMiddleware creates the retry middleware. maxRetries is the total
// number of republish attempts per message.
func NewRetryMiddleware(logger *zap.Logger, router *queue.Router,
	failures repositories.FailureRepository, schedules repositories.JobScheduleRepository,
	maxRetries int) *RetryMiddleware {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryMiddleware{
		logger:     logger.Named("retry"),
		router:     router,
		failures:   failures,
		schedules:  schedules,
		maxRetries: maxRetries,
		sleep:      time.Sleep,
	}
}

// Wrap returns a handler that applies the failure policy around next for
// messages of the given step.
func (m *RetryMiddleware) Wrap(step queue.Step, next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg *queue.Message) error {
		err := next(ctx, msg)
		if err == nil {
			return nil
		}

		if rle, ok := apperrors.AsRateLimit(err); ok {
			return m.parkRateLimited(ctx, msg, rle)
		}

		if msg.RetryCount < m.maxRetries {
			return m.republish(ctx, step, msg, err)
		}
		return m.deadLetter(ctx, msg, err)
	}
}

// parkRateLimited stops the job until the provider's reset instant. No
// retry, no dead letter.
func (m *RetryMiddleware) parkRateLimited(ctx context.Context, msg *queue.Message, rle *apperrors.RateLimitError) error {
	m.logger.Warn("rate limit reached, parking job",
		zap.String("job_id", msg.JobID.String()),
		zap.Time("reset_at", rle.ResetAt))
	return m.schedules.MarkRateLimited(ctx, msg.JobID, rle.ResetAt)
}

func (m *RetryMiddleware) republish(ctx context.Context, step queue.Step, msg *queue.Message, cause error) error {
	retry := *msg
	retry.RetryCount = msg.RetryCount + 1
	delay := time.Duration(math.Pow(2, float64(retry.RetryCount-1))) * time.Second

	m.logger.Warn("message failed, republishing",
		zap.String("type", msg.Type),
		zap.Int("retry_count", retry.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(cause))

	m.sleep(delay)
	return m.router.Publish(ctx, step, &retry)
}

func (m *RetryMiddleware) deadLetter(ctx context.Context, msg *queue.Message, cause error) error {
	m.logger.Error("message exhausted retries, dead-lettering",
		zap.String("type", msg.Type),
		zap.String("job_id", msg.JobID.String()),
		zap.Error(cause))

	envelope, err := msg.Encode()
	if err != nil {
		envelope = []byte("{}")
	}
	if err := m.failures.Insert(ctx, &models.ExtractionFailure{
		TenantID:        msg.TenantID,
		IntegrationID:   msg.IntegrationID,
		ExtractionType:  msg.Type,
		OriginalMessage: envelope,
		ErrorMessage:    cause.Error(),
	}); err != nil {
		return err
	}
	return m.schedules.MarkFailed(ctx, msg.JobID, cause.Error())
}
