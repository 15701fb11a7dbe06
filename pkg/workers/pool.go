package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
)

const fetchWait = 2 * time.Second

// Pool is a fixed-size worker pool bound to one (step, tier) queue. All
// tenants of the tier share it; workers hold no tenant state between
// messages.
type Pool struct {
	logger  *zap.Logger
	manager queue.Manager
	scopes  *database.TenantScopeProvider
	handler HandlerFunc
	step    queue.Step
	tier    models.Tier
	size    int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a pool for one (step, tier) queue, sized by the tier.
func NewPool(logger *zap.Logger, manager queue.Manager, scopes *database.TenantScopeProvider,
	step queue.Step, tier models.Tier, handler HandlerFunc) *Pool {
	return &Pool{
		logger: logger.Named("pool").With(
			zap.String("step", string(step)),
			zap.String("tier", string(tier))),
		manager: manager,
		scopes:  scopes,
		handler: handler,
		step:    step,
		tier:    tier,
		size:    tier.PoolSize(),
		stop:    make(chan struct{}),
	}
}

// Start launches the workers. They run until Stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("Pool started", zap.Int("workers", p.size))
}

// Stop signals the workers and waits up to grace for in-flight messages to
// finish. Workers are cooperative: the stop flag is checked between
// messages only.
func (p *Pool) Stop(grace time.Duration) {
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Pool stopped")
	case <-time.After(grace):
		p.logger.Warn("Pool stop grace period elapsed with workers still busy")
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := p.manager.GetSingleMessage(ctx, p.step, p.tier, fetchWait)
		if err != nil {
			if !errors.Is(err, queue.ErrNoMessage) {
				p.logger.Error("Fetch failed", zap.Int("worker", id), zap.Error(err))
			}
			continue
		}

		p.process(ctx, id, delivery)
	}
}

// process runs one message under its own tenant scope. Delivery is always
// acked: redelivery is owned by the retry middleware, not the broker.
func (p *Pool) process(ctx context.Context, id int, delivery queue.Delivery) {
	defer func() {
		if err := delivery.Ack(); err != nil {
			p.logger.Error("Ack failed", zap.Int("worker", id), zap.Error(err))
		}
	}()

	msg := delivery.Message()
	scopedCtx, cleanup, err := p.scopes.WithTenantScope(ctx, msg.TenantID)
	if err != nil {
		p.logger.Error("Failed to open tenant scope",
			zap.String("tenant_id", msg.TenantID.String()), zap.Error(err))
		return
	}
	defer cleanup()

	if err := p.handler(scopedCtx, msg); err != nil {
		// The middleware already applied the failure policy; this is its
		// own terminal error (republish or DLQ write failed).
		p.logger.Error("Message handling failed terminally",
			zap.String("type", msg.Type),
			zap.String("job_id", msg.JobID.String()),
			zap.Error(err))
	}
}

// StartPools builds and starts one pool per tier for the given step.
func StartPools(ctx context.Context, logger *zap.Logger, manager queue.Manager,
	scopes *database.TenantScopeProvider, step queue.Step, handler HandlerFunc) []*Pool {
	pools := make([]*Pool, 0, len(models.AllTiers()))
	for _, tier := range models.AllTiers() {
		pool := NewPool(logger, manager, scopes, step, tier, handler)
		pool.Start(ctx)
		pools = append(pools, pool)
	}
	return pools
}
