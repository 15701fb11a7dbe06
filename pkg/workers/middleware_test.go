package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

type fakeManager struct {
	mu        sync.Mutex
	published map[queue.Step][]*queue.Message
}

func newFakeManager() *fakeManager {
	return &fakeManager{published: make(map[queue.Step][]*queue.Message)}
}

func (m *fakeManager) SetupQueues(context.Context) error { return nil }
func (m *fakeManager) PublishExtractionJob(_ context.Context, _ models.Tier, msg *queue.Message) error {
	return m.record(queue.StepExtraction, msg)
}
func (m *fakeManager) PublishTransformJob(_ context.Context, _ models.Tier, msg *queue.Message) error {
	return m.record(queue.StepTransform, msg)
}
func (m *fakeManager) PublishEmbeddingJob(_ context.Context, _ models.Tier, msg *queue.Message) error {
	return m.record(queue.StepEmbedding, msg)
}
func (m *fakeManager) GetSingleMessage(context.Context, queue.Step, models.Tier, time.Duration) (queue.Delivery, error) {
	return nil, queue.ErrNoMessage
}
func (m *fakeManager) Close() {}

func (m *fakeManager) record(step queue.Step, msg *queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[step] = append(m.published[step], msg)
	return nil
}

type staticTier struct{}

func (staticTier) TierOf(context.Context, uuid.UUID) (models.Tier, error) {
	return models.TierFree, nil
}

type fakeFailures struct {
	repositories.FailureRepository
	rows []*models.ExtractionFailure
}

func (f *fakeFailures) Insert(_ context.Context, row *models.ExtractionFailure) error {
	f.rows = append(f.rows, row)
	return nil
}

type fakeSchedules struct {
	repositories.JobScheduleRepository
	failed      map[uuid.UUID]string
	rateLimited map[uuid.UUID]time.Time
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{
		failed:      make(map[uuid.UUID]string),
		rateLimited: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeSchedules) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeSchedules) MarkRateLimited(_ context.Context, id uuid.UUID, resetAt time.Time) error {
	f.rateLimited[id] = resetAt
	return nil
}

func newMiddleware(manager *fakeManager, failures *fakeFailures, schedules *fakeSchedules) *RetryMiddleware {
	m := NewRetryMiddleware(zap.NewNop(), queue.NewRouter(manager, staticTier{}), failures, schedules, 3)
	m.sleep = func(time.Duration) {}
	return m
}

func envelope(retryCount int) *queue.Message {
	return &queue.Message{
		TenantID:      uuid.New(),
		IntegrationID: uuid.New(),
		JobID:         uuid.New(),
		Type:          models.TypeIssuesWithChangelogs,
		RetryCount:    retryCount,
	}
}

func TestRetryMiddleware_SuccessPassesThrough(t *testing.T) {
	manager := newFakeManager()
	handler := newMiddleware(manager, &fakeFailures{}, newFakeSchedules()).
		Wrap(queue.StepTransform, func(context.Context, *queue.Message) error { return nil })

	require.NoError(t, handler(context.Background(), envelope(0)))
	assert.Empty(t, manager.published[queue.StepTransform])
}

func TestRetryMiddleware_TransientFailureRepublishes(t *testing.T) {
	manager := newFakeManager()
	var slept []time.Duration
	m := newMiddleware(manager, &fakeFailures{}, newFakeSchedules())
	m.sleep = func(d time.Duration) { slept = append(slept, d) }

	handler := m.Wrap(queue.StepTransform, func(context.Context, *queue.Message) error {
		return errors.New("boom")
	})

	require.NoError(t, handler(context.Background(), envelope(1)))

	published := manager.published[queue.StepTransform]
	require.Len(t, published, 1)
	assert.Equal(t, 2, published[0].RetryCount)
	// 2^(retry_count-1) seconds
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestRetryMiddleware_ExhaustedDeadLetters(t *testing.T) {
	manager := newFakeManager()
	failures := &fakeFailures{}
	schedules := newFakeSchedules()
	handler := newMiddleware(manager, failures, schedules).
		Wrap(queue.StepTransform, func(context.Context, *queue.Message) error {
			return errors.New("boom")
		})

	msg := envelope(3)
	require.NoError(t, handler(context.Background(), msg))

	assert.Empty(t, manager.published[queue.StepTransform])
	require.Len(t, failures.rows, 1)
	assert.Equal(t, models.TypeIssuesWithChangelogs, failures.rows[0].ExtractionType)
	assert.Equal(t, "boom", schedules.failed[msg.JobID])
}

func TestRetryMiddleware_RateLimitParksWithoutDLQ(t *testing.T) {
	manager := newFakeManager()
	failures := &fakeFailures{}
	schedules := newFakeSchedules()
	resetAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	handler := newMiddleware(manager, failures, schedules).
		Wrap(queue.StepExtraction, func(context.Context, *queue.Message) error {
			return &apperrors.RateLimitError{ResetAt: resetAt}
		})

	msg := envelope(0)
	require.NoError(t, handler(context.Background(), msg))

	assert.Empty(t, failures.rows)
	assert.Empty(t, manager.published[queue.StepExtraction])
	assert.Equal(t, resetAt, schedules.rateLimited[msg.JobID])
}
