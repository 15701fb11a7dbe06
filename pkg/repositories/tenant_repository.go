package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// TenantRepository defines the interface for tenant data access.
type TenantRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
	// TierOf resolves a tenant's tier for queue routing. Results are cached:
	// tier changes are rare and routing runs on every publish.
	TierOf(ctx context.Context, tenantID uuid.UUID) (models.Tier, error)
}

type tenantRepository struct {
	mu        sync.RWMutex
	tierCache map[uuid.UUID]models.Tier
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository() TenantRepository {
	return &tenantRepository{tierCache: make(map[uuid.UUID]models.Tier)}
}

var _ TenantRepository = (*tenantRepository)(nil)

const tenantColumns = "id, name, tier, active, created_at, last_updated_at"

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Tier, &t.Active, &t.CreatedAt, &t.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *tenantRepository) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id)
	return scanTenant(row)
}

func (r *tenantRepository) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE active ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *tenantRepository) TierOf(ctx context.Context, tenantID uuid.UUID) (models.Tier, error) {
	r.mu.RLock()
	tier, ok := r.tierCache[tenantID]
	r.mu.RUnlock()
	if ok {
		return tier, nil
	}

	t, err := r.Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve tier for tenant %s: %w", tenantID, err)
	}

	r.mu.Lock()
	r.tierCache[tenantID] = t.Tier
	r.mu.Unlock()
	return t.Tier, nil
}
