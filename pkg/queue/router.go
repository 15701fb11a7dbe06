package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// TierResolver maps a tenant to its tier. The tenant repository implements
// this.
type TierResolver interface {
	TierOf(ctx context.Context, tenantID uuid.UUID) (models.Tier, error)
}

// Router resolves a message's target queue from its tenant's tier:
// publish(step, tenant_id, msg) goes to <step>_queue_<tier_of(tenant_id)>.
type Router struct {
	manager  Manager
	resolver TierResolver
}

// NewRouter creates a tenant-aware router over the queue manager.
func NewRouter(manager Manager, resolver TierResolver) *Router {
	return &Router{manager: manager, resolver: resolver}
}

// Publish routes msg to the step queue of the tenant's tier.
func (r *Router) Publish(ctx context.Context, step Step, msg *Message) error {
	tier, err := r.resolver.TierOf(ctx, msg.TenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve tier for tenant %s: %w", msg.TenantID, err)
	}

	switch step {
	case StepExtraction:
		return r.manager.PublishExtractionJob(ctx, tier, msg)
	case StepTransform:
		return r.manager.PublishTransformJob(ctx, tier, msg)
	case StepEmbedding:
		return r.manager.PublishEmbeddingJob(ctx, tier, msg)
	}
	return fmt.Errorf("unknown step %q", step)
}
