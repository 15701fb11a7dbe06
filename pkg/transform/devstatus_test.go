package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
)

func intPtr(n int) *int { return &n }

func TestPrNumber_Precedence(t *testing.T) {
	tests := []struct {
		name string
		pr   jira.DevStatusPR
		want int
		ok   bool
	}{
		{
			name: "explicit field wins",
			pr:   jira.DevStatusPR{PullRequestNumber: intPtr(7), ID: "123", URL: "https://git.example.com/org/repo/pull/999"},
			want: 7, ok: true,
		},
		{
			name: "integer id",
			pr:   jira.DevStatusPR{ID: "123"},
			want: 123, ok: true,
		},
		{
			name: "number embedded in id",
			pr:   jira.DevStatusPR{ID: "PR-42"},
			want: 42, ok: true,
		},
		{
			name: "number in name",
			pr:   jira.DevStatusPR{ID: "pr", Name: "Fix build #55"},
			want: 55, ok: true,
		},
		{
			name: "pull url fallback",
			pr:   jira.DevStatusPR{ID: "pr", Name: "no digits", URL: "https://git.example.com/org/repo/pull/88"},
			want: 88, ok: true,
		},
		{
			name: "no number anywhere",
			pr:   jira.DevStatusPR{ID: "pr", Name: "none", URL: "https://git.example.com/org/repo"},
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := prNumber(&tt.pr)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestHasUsefulDevStatusData(t *testing.T) {
	empty := &jira.DevStatusResponse{Detail: []jira.DevStatusDetail{{}}}
	assert.False(t, empty.HasUsefulData())

	withPR := &jira.DevStatusResponse{Detail: []jira.DevStatusDetail{
		{PullRequests: []jira.DevStatusPR{{ID: "1"}}},
	}}
	assert.True(t, withPR.HasUsefulData())
}
