package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// JobScheduleRepository persists the cycling job state machine and its
// checkpoints.
type JobScheduleRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.JobSchedule, error)
	// GetByIntegration looks a schedule up by integration id, falling back
	// to (tenant_id, job_name prefix) when no direct match exists.
	GetByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID, jobNamePrefix string) (*models.JobSchedule, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.JobSchedule, error)
	// NextRunnable returns the due PENDING/READY schedule with the lowest
	// execution order for the tenant, or ErrNotFound. PAUSED schedules are
	// never selected; a RUNNING schedule blocks its execution_order slot.
	NextRunnable(ctx context.Context, tenantID uuid.UUID, now time.Time) (*models.JobSchedule, error)
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// MarkFinished completes the job and promotes the next schedule in the
	// execution_order cycle to PENDING, skipping PAUSED entries.
	MarkFinished(ctx context.Context, id uuid.UUID, lastSuccessAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	// MarkRateLimited parks the job until the provider's reset instant;
	// a zero resetAt resumes one minute out.
	MarkRateLimited(ctx context.Context, id uuid.UUID, resetAt time.Time) error
	UpdateCheckpoint(ctx context.Context, id uuid.UUID, checkpoint json.RawMessage) error
	UpdateStatusDoc(ctx context.Context, id uuid.UUID, doc json.RawMessage) error
}

type jobScheduleRepository struct{}

// NewJobScheduleRepository creates a new job schedule repository.
func NewJobScheduleRepository() JobScheduleRepository {
	return &jobScheduleRepository{}
}

var _ JobScheduleRepository = (*jobScheduleRepository)(nil)

const jobScheduleColumns = `id, tenant_id, integration_id, job_name, status, last_success_at,
	last_run_started_at, next_run, execution_order, error_message, checkpoint, status_doc,
	created_at, last_updated_at`

func scanJobSchedule(row pgx.Row) (*models.JobSchedule, error) {
	var s models.JobSchedule
	err := row.Scan(&s.ID, &s.TenantID, &s.IntegrationID, &s.JobName, &s.Status,
		&s.LastSuccessAt, &s.LastRunStartedAt, &s.NextRun, &s.ExecutionOrder,
		&s.ErrorMessage, &s.Checkpoint, &s.StatusDoc, &s.CreatedAt, &s.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *jobScheduleRepository) Get(ctx context.Context, id uuid.UUID) (*models.JobSchedule, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, "SELECT "+jobScheduleColumns+" FROM job_schedules WHERE id = $1", id)
	return scanJobSchedule(row)
}

func (r *jobScheduleRepository) GetByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID, jobNamePrefix string) (*models.JobSchedule, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx,
		"SELECT "+jobScheduleColumns+" FROM job_schedules WHERE integration_id = $1 ORDER BY execution_order LIMIT 1",
		integrationID)
	schedule, err := scanJobSchedule(row)
	if err == nil {
		return schedule, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	// Documented fallback: (tenant_id, job_name prefix).
	row = q.QueryRow(ctx,
		"SELECT "+jobScheduleColumns+" FROM job_schedules WHERE tenant_id = $1 AND job_name LIKE $2 || '%' ORDER BY execution_order LIMIT 1",
		tenantID, jobNamePrefix)
	return scanJobSchedule(row)
}

func (r *jobScheduleRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.JobSchedule, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		"SELECT "+jobScheduleColumns+" FROM job_schedules WHERE tenant_id = $1 ORDER BY execution_order", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.JobSchedule
	for rows.Next() {
		s, err := scanJobSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *jobScheduleRepository) NextRunnable(ctx context.Context, tenantID uuid.UUID, now time.Time) (*models.JobSchedule, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	// A RUNNING job in any slot blocks the tenant's cycle: at most one job
	// per tenant runs at a time.
	row := q.QueryRow(ctx, `
		SELECT `+jobScheduleColumns+`
		FROM job_schedules
		WHERE tenant_id = $1
		  AND status IN ($2, $3)
		  AND (next_run IS NULL OR next_run <= $4)
		  AND NOT EXISTS (
			SELECT 1 FROM job_schedules r
			WHERE r.tenant_id = $1 AND r.status = $5
		  )
		ORDER BY execution_order
		LIMIT 1`,
		tenantID, models.JobStatusPending, models.JobStatusReady, now, models.JobStatusRunning)
	return scanJobSchedule(row)
}

func (r *jobScheduleRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	return r.exec(ctx, `
		UPDATE job_schedules
		SET status = $2, last_run_started_at = $3, error_message = NULL, last_updated_at = now()
		WHERE id = $1`,
		id, models.JobStatusRunning, startedAt)
}

func (r *jobScheduleRepository) MarkFinished(ctx context.Context, id uuid.UUID, lastSuccessAt time.Time) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	// Window update: last_success_at is the run's start instant truncated
	// to the minute.
	_, err = q.Exec(ctx, `
		UPDATE job_schedules
		SET status = $2, last_success_at = $3, next_run = NULL, error_message = NULL, last_updated_at = now()
		WHERE id = $1`,
		id, models.JobStatusFinished, lastSuccessAt.Truncate(time.Minute))
	if err != nil {
		return fmt.Errorf("failed to finish job schedule: %w", err)
	}

	// Promote the next job in the execution_order cycle to PENDING,
	// skipping PAUSED entries and wrapping around at the end.
	_, err = q.Exec(ctx, `
		UPDATE job_schedules
		SET status = $2, last_updated_at = now()
		WHERE id = (
			SELECT next.id FROM job_schedules done
			JOIN LATERAL (
				SELECT n.id FROM job_schedules n
				WHERE n.tenant_id = done.tenant_id
				  AND n.status <> $3
				  AND n.id <> done.id
				ORDER BY (n.execution_order <= done.execution_order), n.execution_order
				LIMIT 1
			) next ON true
			WHERE done.id = $1
		)`,
		id, models.JobStatusPending, models.JobStatusPaused)
	if err != nil {
		return fmt.Errorf("failed to promote next job schedule: %w", err)
	}
	return nil
}

func (r *jobScheduleRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return r.exec(ctx, `
		UPDATE job_schedules
		SET status = $2, error_message = $3, last_updated_at = now()
		WHERE id = $1`,
		id, models.JobStatusFailed, models.TruncateError(errMsg))
}

func (r *jobScheduleRepository) MarkRateLimited(ctx context.Context, id uuid.UUID, resetAt time.Time) error {
	if resetAt.IsZero() {
		resetAt = time.Now().UTC().Add(time.Minute)
	}
	return r.exec(ctx, `
		UPDATE job_schedules
		SET status = $2, next_run = $3, last_updated_at = now()
		WHERE id = $1`,
		id, models.JobStatusRateLimitReached, resetAt)
}

func (r *jobScheduleRepository) UpdateCheckpoint(ctx context.Context, id uuid.UUID, checkpoint json.RawMessage) error {
	return r.exec(ctx,
		"UPDATE job_schedules SET checkpoint = $2, last_updated_at = now() WHERE id = $1",
		id, checkpoint)
}

func (r *jobScheduleRepository) UpdateStatusDoc(ctx context.Context, id uuid.UUID, doc json.RawMessage) error {
	return r.exec(ctx,
		"UPDATE job_schedules SET status_doc = $2, last_updated_at = now() WHERE id = $1",
		id, doc)
}

func (r *jobScheduleRepository) exec(ctx context.Context, sql string, args ...any) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to update job schedule: %w", err)
	}
	return nil
}
