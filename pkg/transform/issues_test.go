package transform

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

func statusHistory(id, created, from, to string) jira.History {
	return jira.History{
		ID:      id,
		Created: jira.Time{Time: mustTime(created)},
		Author:  &jira.UserRef{DisplayName: "A"},
		Items: []jira.HistoryItem{
			{Field: "assignee", From: "x", To: "y"},
			{Field: "status", From: from, To: to},
		},
	}
}

func TestBuildChangelogEntries_ContiguousChain(t *testing.T) {
	item := &models.WorkItem{
		ID:      uuid.New(),
		Created: mustTime("2024-01-01T10:00:00Z"),
	}
	statusIDs := map[string]uuid.UUID{
		"1": statusToDo, "3": statusInProgress, "5": statusDone,
	}
	// deliberately out of order; the builder sorts chronologically
	histories := []jira.History{
		statusHistory("h2", "2024-01-03T10:00:00Z", "3", "5"),
		statusHistory("h1", "2024-01-02T10:00:00Z", "1", "3"),
	}

	entries := BuildChangelogEntries(item, histories, statusIDs, nil)

	require.Len(t, entries, 2)
	assert.Equal(t, item.Created, entries[0].TransitionStartDate)
	assert.Equal(t, entries[0].TransitionChangeDate, entries[1].TransitionStartDate)
	assert.Equal(t, 86400.0, entries[0].TimeInStatusSeconds)
	assert.Equal(t, 86400.0, entries[1].TimeInStatusSeconds)
	assert.Equal(t, statusInProgress, *entries[0].ToStatusID)
	assert.Equal(t, statusDone, *entries[1].ToStatusID)
	assert.Equal(t, "A", entries[0].ChangedBy)
}

func TestBuildChangelogEntries_SkipsExistingButKeepsChain(t *testing.T) {
	item := &models.WorkItem{
		ID:      uuid.New(),
		Created: mustTime("2024-01-01T10:00:00Z"),
	}
	statusIDs := map[string]uuid.UUID{"3": statusInProgress, "5": statusDone}
	histories := []jira.History{
		statusHistory("h1", "2024-01-02T10:00:00Z", "1", "3"),
		statusHistory("h2", "2024-01-03T10:00:00Z", "3", "5"),
	}

	entries := BuildChangelogEntries(item, histories, statusIDs, map[string]bool{"h1": true})

	// h1 already stored: only h2 comes back, starting where h1 changed
	require.Len(t, entries, 1)
	assert.Equal(t, "h2", entries[0].ExternalID)
	assert.Equal(t, mustTime("2024-01-02T10:00:00Z"), entries[0].TransitionStartDate)
}

func TestBuildChangelogEntries_IgnoresNonStatusHistories(t *testing.T) {
	item := &models.WorkItem{ID: uuid.New(), Created: mustTime("2024-01-01T10:00:00Z")}
	histories := []jira.History{
		{ID: "h1", Created: jira.Time{Time: mustTime("2024-01-02T10:00:00Z")},
			Items: []jira.HistoryItem{{Field: "assignee", From: "x", To: "y"}}},
	}

	assert.Empty(t, BuildChangelogEntries(item, histories, nil, nil))
}

func TestBuildChangelogEntries_UnknownStatusLeavesNilFK(t *testing.T) {
	item := &models.WorkItem{ID: uuid.New(), Created: mustTime("2024-01-01T10:00:00Z")}
	histories := []jira.History{statusHistory("h1", "2024-01-02T10:00:00Z", "99", "98")}

	entries := BuildChangelogEntries(item, histories, map[string]uuid.UUID{}, nil)

	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].FromStatusID)
	assert.Nil(t, entries[0].ToStatusID)
}
