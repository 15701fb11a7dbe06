package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// IntegrationRepository defines the interface for integration data access.
type IntegrationRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	ListActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Integration, error)
}

type integrationRepository struct{}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository() IntegrationRepository {
	return &integrationRepository{}
}

var _ IntegrationRepository = (*integrationRepository)(nil)

const integrationColumns = "id, tenant_id, provider, credentials, base_url, base_search_filter, active, created_at, last_updated_at"

func scanIntegration(row pgx.Row) (*models.Integration, error) {
	var i models.Integration
	err := row.Scan(&i.ID, &i.TenantID, &i.Provider, &i.EncryptedCredentials,
		&i.BaseURL, &i.BaseSearchFilter, &i.Active, &i.CreatedAt, &i.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

func (r *integrationRepository) Get(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, "SELECT "+integrationColumns+" FROM integrations WHERE id = $1", id)
	return scanIntegration(row)
}

func (r *integrationRepository) ListActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Integration, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE tenant_id = $1 AND active", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, i)
	}
	return integrations, rows.Err()
}
