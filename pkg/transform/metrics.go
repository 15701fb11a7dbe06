package transform

import (
	"time"

	"github.com/google/uuid"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// ComputeMetrics derives the workflow metric columns from a work item's
// changelog chain, ordered by transition_change_date ascending, and the
// status_id -> lowercase category map.
//
// Milestone detection walks the chain newest-first: the first row seen wins
// the last_* milestones and the last row seen wins the first_* ones, so a
// partial older chain never shifts the newest milestones. Time accumulation
// is chronological and independent of that walk.
func ComputeMetrics(chain []*models.Changelog, categories map[uuid.UUID]string) models.WorkflowMetrics {
	var m models.WorkflowMetrics

	for i := len(chain) - 1; i >= 0; i-- {
		row := chain[i]
		if row.ToStatusID == nil {
			continue
		}
		at := row.TransitionChangeDate

		switch categories[*row.ToStatusID] {
		case models.CategoryToDo:
			m.TotalBacklogReturns++
			m.WorkFirstCommittedAt = timePtr(at)
		case models.CategoryInProgress:
			m.TotalWorkStarts++
			if m.WorkLastStartedAt == nil {
				m.WorkLastStartedAt = timePtr(at)
			}
			m.WorkFirstStartedAt = timePtr(at)
		case models.CategoryDone:
			m.TotalCompletions++
			if m.WorkLastCompletedAt == nil {
				m.WorkLastCompletedAt = timePtr(at)
			}
			m.WorkFirstCompletedAt = timePtr(at)
		}
	}

	for _, row := range chain {
		if row.ToStatusID == nil {
			continue
		}
		switch categories[*row.ToStatusID] {
		case models.CategoryInProgress:
			m.TotalWorkTimeSeconds += row.TimeInStatusSeconds
		case models.CategoryToDo:
			m.TotalReviewTimeSeconds += row.TimeInStatusSeconds
		}
	}

	if m.WorkLastCompletedAt != nil && m.WorkFirstStartedAt != nil {
		m.TotalCycleTimeSeconds = m.WorkLastCompletedAt.Sub(*m.WorkFirstStartedAt).Seconds()
	}
	if m.WorkLastCompletedAt != nil && m.WorkFirstCommittedAt != nil {
		m.TotalLeadTimeSeconds = m.WorkLastCompletedAt.Sub(*m.WorkFirstCommittedAt).Seconds()
	}

	m.WorkflowComplexityScore = 2*m.TotalBacklogReturns + max(0, m.TotalCompletions-1)
	m.ReworkIndicator = m.TotalWorkStarts > 1
	m.DirectCompletion = m.TotalCompletions == 1 && m.TotalWorkStarts == 0 && len(chain) == 1

	return m
}

func timePtr(t time.Time) *time.Time { return &t }
