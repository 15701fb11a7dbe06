// Package repositories provides PostgreSQL data access for the pipeline
// tables. Repositories are stateless; they read the querier (tenant-scoped
// connection or open transaction) from the context, so a message handler
// can wrap several repository calls in one transaction via
// database.InTransaction.
package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
)

func querier(ctx context.Context) (database.Querier, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, database.ErrNoTenantScope
	}
	return q, nil
}

// scanOne maps pgx.ErrNoRows to apperrors.ErrNotFound.
func scanOne(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	return err
}
