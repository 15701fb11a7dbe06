package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoTenantScope is returned when a repository is called without a tenant
// scope in context.
var ErrNoTenantScope = errors.New("no tenant scope in context")

// DefaultBatchSize chunks bulk statements so parameter counts stay well
// under the postgres limit.
const DefaultBatchSize = 100

// Querier is the subset of pgx shared by pooled connections and
// transactions. Repositories accept whichever is in context.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// BulkInsert executes a parameterized multi-row INSERT, auto-chunked at
// batchSize rows. String values are re-encoded to valid UTF-8 before binding
// to tolerate provider payloads containing invalid surrogates.
func BulkInsert(ctx context.Context, q Querier, table string, columns []string, rows [][]any, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		sql, args := buildMultiRowInsert(table, columns, chunk, "")
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("bulk insert into %s: %w", table, err)
		}
	}
	return nil
}

// BulkUpdate executes one parameterized UPDATE per row, keyed by pkColumn,
// batched through the pgx pipeline in chunks of batchSize.
// Each row must be ordered as (pk, columns...).
func BulkUpdate(ctx context.Context, q Querier, table, pkColumn string, columns []string, rows [][]any, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+2)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1", table, strings.Join(sets, ", "), pkColumn)

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := &pgx.Batch{}
		for _, row := range rows[start:end] {
			if len(row) != len(columns)+1 {
				return fmt.Errorf("bulk update %s: row has %d values, want %d", table, len(row), len(columns)+1)
			}
			batch.Queue(sql, sanitizeArgs(row)...)
		}

		results := q.SendBatch(ctx, batch)
		var execErr error
		for range batch.Len() {
			if _, err := results.Exec(); err != nil && execErr == nil {
				execErr = err
			}
		}
		if err := results.Close(); err != nil && execErr == nil {
			execErr = err
		}
		if execErr != nil {
			return fmt.Errorf("bulk update %s: %w", table, execErr)
		}
	}
	return nil
}

// BulkInsertRelationships inserts many-to-many edge rows with
// ON CONFLICT (conflictColumns) DO NOTHING, so concurrent workers of the
// same tenant are safe.
func BulkInsertRelationships(ctx context.Context, q Querier, table string, columns, conflictColumns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	onConflict := fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictColumns, ", "))

	for start := 0; start < len(rows); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(rows) {
			end = len(rows)
		}

		sql, args := buildMultiRowInsert(table, columns, rows[start:end], onConflict)
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("bulk insert relationships into %s: %w", table, err)
		}
	}
	return nil
}

// buildMultiRowInsert renders INSERT INTO table (cols...) VALUES ($1,..),(..)
// with a flattened, sanitized argument list.
func buildMultiRowInsert(table string, columns []string, rows [][]any, suffix string) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, sanitizeArg(row[j]))
		}
		sb.WriteString(")")
	}
	sb.WriteString(suffix)

	return sb.String(), args
}

func sanitizeArgs(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = sanitizeArg(v)
	}
	return out
}

func sanitizeArg(v any) any {
	switch s := v.(type) {
	case string:
		return SanitizeUTF8(s)
	case *string:
		if s == nil {
			return v
		}
		clean := SanitizeUTF8(*s)
		return &clean
	default:
		return v
	}
}
