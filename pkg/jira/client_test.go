package jira

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, models.IntegrationCredentials{
		Email:    "sync@example.com",
		APIToken: "token",
	}, Config{PageSize: 2, MaxRetries: 3}, zap.NewNop())
	c.retryInterval = 5 * time.Millisecond
	return c
}

func TestSearchProjects_Pagination(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/3/project/search", r.URL.Path)
		require.Equal(t, "issueTypes", r.URL.Query().Get("expand"))

		switch calls.Add(1) {
		case 1:
			_ = json.NewEncoder(w).Encode(ProjectSearchResponse{
				Values: []ProjectPayload{{ID: "10"}, {ID: "11"}},
				IsLast: false,
			})
		default:
			require.Equal(t, "2", r.URL.Query().Get("startAt"))
			_ = json.NewEncoder(w).Encode(ProjectSearchResponse{
				Values: []ProjectPayload{{ID: "12"}},
				IsLast: true,
			})
		}
	})

	c := testClient(t, handler)
	projects, err := c.SearchProjects(t.Context(), nil)
	require.NoError(t, err)
	assert.Len(t, projects, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProjectPayload_AcceptsBothIssueTypeCasings(t *testing.T) {
	upper := []byte(`{"id":"10","key":"P1","issueTypes":[{"id":"10001","name":"Story"}]}`)
	lower := []byte(`{"id":"11","key":"P2","issuetypes":[{"id":"10001","name":"Story"}]}`)

	var p1, p2 ProjectPayload
	require.NoError(t, json.Unmarshal(upper, &p1))
	require.NoError(t, json.Unmarshal(lower, &p2))

	require.Len(t, p1.IssueTypes, 1)
	require.Len(t, p2.IssueTypes, 1)
	assert.Equal(t, "Story", p2.IssueTypes[0].Name)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(ApproximateCountResponse{Count: 7})
	})

	c := testClient(t, handler)
	count, err := c.ApproximateCount(t.Context(), "project = HP")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_RateLimitNotRetried(t *testing.T) {
	var calls atomic.Int32
	reset := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Reset", reset.Format(time.RFC3339))
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := testClient(t, handler)
	_, err := c.SearchIssues(t.Context(), "project = HP", "")
	require.Error(t, err)

	rle, ok := apperrors.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, reset, rle.ResetAt)
	assert.Equal(t, int32(1), calls.Load(), "rate limit must not be retried")
}

func TestDevStatus_NotFoundIsEmpty(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := testClient(t, handler)
	resp, err := c.DevStatus(t.Context(), "100")
	require.NoError(t, err)
	assert.False(t, resp.HasUsefulData())
}

func TestSearchIssuesPages_TokenPagination(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Contains(t, req.Expand, "changelog")

		if calls.Add(1) == 1 {
			require.Empty(t, req.NextPageToken)
			_ = json.NewEncoder(w).Encode(SearchResponse{
				Issues:        []Issue{{ID: "1", Key: "HP-1"}, {ID: "2", Key: "HP-2"}},
				NextPageToken: "tok-2",
			})
			return
		}
		require.Equal(t, "tok-2", req.NextPageToken)
		_ = json.NewEncoder(w).Encode(SearchResponse{
			Issues: []Issue{{ID: "3", Key: "HP-3"}},
			IsLast: true,
		})
	})

	c := testClient(t, handler)
	var seen []string
	err := c.SearchIssuesPages(t.Context(), "project = HP", func(page *SearchResponse) error {
		for _, issue := range page.Issues {
			seen = append(seen, issue.Key)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"HP-1", "HP-2", "HP-3"}, seen)
}

func TestParseRateLimitReset_RetryAfterSeconds(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "60")

	got := parseRateLimitReset(resp)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), got, 2*time.Second)
}

func TestTime_UnmarshalFormats(t *testing.T) {
	var ts Time
	require.NoError(t, json.Unmarshal([]byte(`"2024-01-02T10:00:00.000+0000"`), &ts))
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), ts.Time)

	require.NoError(t, json.Unmarshal([]byte(`"2024-01-02T10:00:00Z"`), &ts))
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), ts.Time)

	assert.Error(t, json.Unmarshal([]byte(`"not-a-time"`), &ts))
}

func TestIssueFields_CapturesAllFields(t *testing.T) {
	payload := []byte(`{
		"summary": "Fix login",
		"status": {"id":"5","name":"Done","statusCategory":{"key":"done","name":"Done"}},
		"customfield_10001": {"value":"Platform"}
	}`)

	var f IssueFields
	require.NoError(t, json.Unmarshal(payload, &f))
	assert.Equal(t, "Fix login", f.Summary)
	assert.Equal(t, "done", f.Status.StatusCategory.Key)
	assert.Contains(t, f.All, "customfield_10001")
}
