package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// Scheduler drives the passive job cycle: every tick it looks, per active
// tenant, for the due schedule with the lowest execution order and publishes
// an extraction envelope for it. The extraction workers run the sync; the
// scheduler only dispatches.
type Scheduler struct {
	logger    *zap.Logger
	db        *database.DB
	tenants   repositories.TenantRepository
	schedules repositories.JobScheduleRepository
	router    *queue.Router
	interval  time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewScheduler creates the job scheduler.
func NewScheduler(logger *zap.Logger, db *database.DB, tenants repositories.TenantRepository,
	schedules repositories.JobScheduleRepository, router *queue.Router, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		logger:    logger.Named("scheduler"),
		db:        db,
		tenants:   tenants,
		schedules: schedules,
		router:    router,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop. It runs until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
}

// Stop signals the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick dispatches at most one schedule per tenant. Scheduling is a
// control-plane read spanning tenants, so it runs on an unscoped connection.
func (s *Scheduler) tick(ctx context.Context) {
	scope, err := s.db.WithoutTenant(ctx)
	if err != nil {
		s.logger.Error("Failed to acquire scheduler connection", zap.Error(err))
		return
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error("Failed to list active tenants", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, tenant := range tenants {
		schedule, err := s.schedules.NextRunnable(ctx, tenant.ID, now)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				s.logger.Error("Failed to select runnable schedule",
					zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
			}
			continue
		}

		msg := &queue.Message{
			TenantID:      schedule.TenantID,
			IntegrationID: schedule.IntegrationID,
			JobID:         schedule.ID,
			Token:         queue.NewToken(),
			Type:          schedule.JobName,
		}
		if err := s.router.Publish(ctx, queue.StepExtraction, msg); err != nil {
			s.logger.Error("Failed to dispatch schedule",
				zap.String("job_id", schedule.ID.String()), zap.Error(err))
			continue
		}

		// Marking RUNNING at dispatch keeps the next tick from re-queuing
		// the same schedule before a worker picks it up.
		if err := s.schedules.MarkRunning(ctx, schedule.ID, now); err != nil {
			s.logger.Error("Failed to mark schedule running",
				zap.String("job_id", schedule.ID.String()), zap.Error(err))
			continue
		}

		s.logger.Info("Dispatched schedule",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("job_id", schedule.ID.String()),
			zap.String("job_name", schedule.JobName))
	}
}
