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

// RawDataRepository stages extracted payloads for the transform stage.
// Rows are write-once: status moves pending -> completed or pending -> failed
// exactly once.
type RawDataRepository interface {
	Insert(ctx context.Context, raw *models.RawExtractionData) error
	Get(ctx context.Context, id uuid.UUID) (*models.RawExtractionData, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorDetails string) error
}

type rawDataRepository struct{}

// NewRawDataRepository creates a new raw extraction data repository.
func NewRawDataRepository() RawDataRepository {
	return &rawDataRepository{}
}

var _ RawDataRepository = (*rawDataRepository)(nil)

func (r *rawDataRepository) Insert(ctx context.Context, raw *models.RawExtractionData) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if raw.ID == uuid.Nil {
		raw.ID = uuid.New()
	}
	now := time.Now().UTC()
	raw.CreatedAt = now
	raw.LastUpdatedAt = now
	if raw.Status == "" {
		raw.Status = models.RawDataPending
	}
	if raw.RawData == nil {
		raw.RawData = json.RawMessage("null")
	}

	_, err = q.Exec(ctx, `
		INSERT INTO raw_extraction_data (id, tenant_id, integration_id, type, raw_data, status, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		raw.ID, raw.TenantID, raw.IntegrationID, raw.Type, raw.RawData, raw.Status, raw.CreatedAt, raw.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert raw extraction data: %w", err)
	}
	return nil
}

func (r *rawDataRepository) Get(ctx context.Context, id uuid.UUID) (*models.RawExtractionData, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	var raw models.RawExtractionData
	err = q.QueryRow(ctx, `
		SELECT id, tenant_id, integration_id, type, raw_data, status, error_details, created_at, last_updated_at
		FROM raw_extraction_data WHERE id = $1`, id).
		Scan(&raw.ID, &raw.TenantID, &raw.IntegrationID, &raw.Type, &raw.RawData,
			&raw.Status, &raw.ErrorDetails, &raw.CreatedAt, &raw.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get raw extraction data: %w", err)
	}
	return &raw, nil
}

func (r *rawDataRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, models.RawDataCompleted, nil)
}

func (r *rawDataRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorDetails string) error {
	return r.transition(ctx, id, models.RawDataFailed, &errorDetails)
}

// transition enforces the write-once lifecycle: only pending rows move.
func (r *rawDataRepository) transition(ctx context.Context, id uuid.UUID, to models.RawDataStatus, errorDetails *string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE raw_extraction_data
		SET status = $2, error_details = $3, last_updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, to, errorDetails, models.RawDataPending)
	if err != nil {
		return fmt.Errorf("failed to transition raw extraction data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}
	return nil
}
