package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// FailureRepository records dead-letter rows for messages that exhausted
// their retries.
type FailureRepository interface {
	Insert(ctx context.Context, f *models.ExtractionFailure) error
}

type failureRepository struct{}

// NewFailureRepository creates a new extraction failure repository.
func NewFailureRepository() FailureRepository {
	return &failureRepository{}
}

var _ FailureRepository = (*failureRepository)(nil)

func (r *failureRepository) Insert(ctx context.Context, f *models.ExtractionFailure) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now().UTC()
	}

	_, err = q.Exec(ctx, `
		INSERT INTO extraction_failures (id, tenant_id, integration_id, extraction_type, original_message, error_message, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.TenantID, f.IntegrationID, f.ExtractionType, f.OriginalMessage,
		models.TruncateError(f.ErrorMessage), f.FailedAt)
	if err != nil {
		return fmt.Errorf("failed to insert extraction failure: %w", err)
	}
	return nil
}
