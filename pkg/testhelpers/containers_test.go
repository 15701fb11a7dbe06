//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestTestDB_MigrationsApplied(t *testing.T) {
	testDB := GetTestDB(t)

	ctx := context.Background()

	// Spot-check the migrated schema
	tables := []string{
		"tenants", "integrations", "job_schedules", "raw_extraction_data",
		"projects", "wits", "statuses", "work_items", "changelogs",
		"sprints", "work_item_pr_links", "extraction_failures",
	}

	for _, table := range tables {
		var exists bool
		err := testDB.Pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist after migrations", table)
		}
	}
}
