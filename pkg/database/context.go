package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type contextKey string

const (
	// TenantScopeKey is the context key for storing the tenant-scoped database connection.
	TenantScopeKey contextKey = "tenantScope"
	// TxKey is the context key for an open write transaction. When set,
	// repositories run their statements inside it instead of on the scope
	// connection.
	TxKey contextKey = "tx"
)

// GetTenantScope retrieves the tenant-scoped database connection from context.
// Returns nil and false if not present.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(TenantScopeKey).(*TenantScope)
	return scope, ok
}

// SetTenantScope stores the tenant-scoped database connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// SetTx stores an open transaction in context for repositories to pick up.
func SetTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, TxKey, tx)
}

// GetQuerier returns the querier repositories should use: the transaction
// if one is open in ctx, otherwise the tenant scope's connection.
func GetQuerier(ctx context.Context) (Querier, bool) {
	if tx, ok := ctx.Value(TxKey).(pgx.Tx); ok {
		return tx, true
	}
	if scope, ok := GetTenantScope(ctx); ok {
		return scope.Conn, true
	}
	return nil, false
}

// TenantScopeProvider creates tenant-scoped contexts for database operations.
type TenantScopeProvider struct {
	db *DB
}

// NewTenantScopeProvider creates a TenantScopeProvider for the given database.
func NewTenantScopeProvider(db *DB) *TenantScopeProvider {
	return &TenantScopeProvider{db: db}
}

// WithTenantScope returns a context with tenant scope set for the given tenant.
// The cleanup function must be called when the scope is no longer needed.
func (p *TenantScopeProvider) WithTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	tenantCtx := SetTenantScope(ctx, scope)
	return tenantCtx, func() { scope.Close() }, nil
}

// InTransaction begins a transaction on the tenant scope's connection, runs
// fn with the transaction set in ctx, and commits. On error the transaction
// is rolled back. Message handlers use this so one message is one unit of
// work; downstream publishes happen only after commit.
func InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetTenantScope(ctx)
	if !ok {
		return ErrNoTenantScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(SetTx(ctx, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}
