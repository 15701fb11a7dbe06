package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Time handles the provider's timestamp format ("2006-01-02T15:04:05.000-0700")
// as well as plain RFC3339, which stub servers and older payloads use.
type Time struct {
	time.Time
}

const providerTimeLayout = "2006-01-02T15:04:05.000-0700"

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range []string{providerTimeLayout, time.RFC3339, "2006-01-02T15:04:05Z0700"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(providerTimeLayout))
}

// EntityRef is a generic id/name reference embedded in issue fields.
type EntityRef struct {
	ID   string `json:"id"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

// UserRef carries the display name of a provider user.
type UserRef struct {
	AccountID   string `json:"accountId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// StatusCategory is the provider's coarse status grouping. Key is one of
// "new", "indeterminate", "done"; Name is "To Do", "In Progress", "Done".
type StatusCategory struct {
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

// StatusPayload is a workflow status as returned by the statuses endpoints.
type StatusPayload struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	StatusCategory StatusCategory `json:"statusCategory"`
}

// Category returns the lowercase status category name.
func (s *StatusPayload) Category() string {
	return strings.ToLower(s.StatusCategory.Name)
}

// IssueTypePayload is a provider issue type.
type IssueTypePayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	HierarchyLevel int    `json:"hierarchyLevel,omitempty"`
}

// ProjectPayload is one project from the project-search endpoint, expanded
// with its issue types. The expansion field appears as "issueTypes" on some
// deployments and "issuetypes" on others; both are accepted.
type ProjectPayload struct {
	ID             string             `json:"id"`
	Key            string             `json:"key"`
	Name           string             `json:"name"`
	ProjectTypeKey string             `json:"projectTypeKey,omitempty"`
	IssueTypes     []IssueTypePayload `json:"issueTypes,omitempty"`
}

func (p *ProjectPayload) UnmarshalJSON(data []byte) error {
	type alias ProjectPayload
	aux := struct {
		*alias
		IssueTypesLower []IssueTypePayload `json:"issuetypes,omitempty"`
	}{alias: (*alias)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(p.IssueTypes) == 0 && len(aux.IssueTypesLower) > 0 {
		p.IssueTypes = aux.IssueTypesLower
	}
	return nil
}

// ProjectSearchResponse is one page of GET /rest/api/3/project/search.
type ProjectSearchResponse struct {
	Values     []ProjectPayload `json:"values"`
	StartAt    int              `json:"startAt"`
	MaxResults int              `json:"maxResults"`
	Total      int              `json:"total"`
	IsLast     bool             `json:"isLast"`
}

// IssueTypeStatuses groups the statuses available to one issue type of a
// project (GET /rest/api/3/project/{id}/statuses).
type IssueTypeStatuses struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Statuses []StatusPayload `json:"statuses"`
}

// FieldPayload is one entry of the custom-field catalog.
type FieldPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Schema struct {
		Type   string `json:"type,omitempty"`
		Custom string `json:"custom,omitempty"`
	} `json:"schema,omitempty"`
}

// FieldSearchResponse is one page of GET /rest/api/3/field/search.
type FieldSearchResponse struct {
	Values     []FieldPayload `json:"values"`
	StartAt    int            `json:"startAt"`
	MaxResults int            `json:"maxResults"`
	Total      int            `json:"total"`
	IsLast     bool           `json:"isLast"`
}

// IssueFields carries the typed common fields plus every raw field keyed by
// provider field id, so custom-field projection can run against the full
// payload.
type IssueFields struct {
	Summary     string          `json:"summary,omitempty"`
	Description json.RawMessage `json:"description,omitempty"`
	Project     *EntityRef      `json:"project,omitempty"`
	IssueType   *EntityRef      `json:"issuetype,omitempty"`
	Status      *StatusPayload  `json:"status,omitempty"`
	Priority    *EntityRef      `json:"priority,omitempty"`
	Resolution  *EntityRef      `json:"resolution,omitempty"`
	Assignee    *UserRef        `json:"assignee,omitempty"`
	Parent      *EntityRef      `json:"parent,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Created     Time            `json:"created,omitempty"`
	Updated     Time            `json:"updated,omitempty"`

	// All holds every field of the payload, including custom fields, as
	// raw JSON keyed by field id.
	All map[string]json.RawMessage `json:"-"`
}

func (f *IssueFields) UnmarshalJSON(data []byte) error {
	type alias IssueFields
	if err := json.Unmarshal(data, (*alias)(f)); err != nil {
		return err
	}
	return json.Unmarshal(data, &f.All)
}

// HistoryItem is one changed field within a changelog history entry.
type HistoryItem struct {
	Field      string `json:"field"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	FromString string `json:"fromString,omitempty"`
	ToString   string `json:"toString,omitempty"`
}

// History is one changelog entry of an issue.
type History struct {
	ID      string        `json:"id"`
	Created Time          `json:"created"`
	Author  *UserRef      `json:"author,omitempty"`
	Items   []HistoryItem `json:"items"`
}

// ChangelogPayload is the embedded changelog of an issue fetched with
// expand=changelog.
type ChangelogPayload struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Histories  []History `json:"histories"`
}

// Issue is one issue from the JQL search endpoint.
type Issue struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	Fields    IssueFields       `json:"fields"`
	Changelog *ChangelogPayload `json:"changelog,omitempty"`
}

// SearchRequest is the body of POST /rest/api/3/search/jql.
type SearchRequest struct {
	JQL           string   `json:"jql"`
	MaxResults    int      `json:"maxResults,omitempty"`
	Fields        []string `json:"fields,omitempty"`
	Expand        []string `json:"expand,omitempty"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

// SearchResponse is one page of issue-search results with token-based
// pagination.
type SearchResponse struct {
	Issues        []Issue `json:"issues"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
	IsLast        bool    `json:"isLast"`
}

// ApproximateCountResponse is the body of POST /rest/api/3/search/approximate-count.
type ApproximateCountResponse struct {
	Count int `json:"count"`
}

// ProjectStatusesPayload is the staged payload of one project's statuses
// grouped by issue type, written by the reference extractor and consumed by
// the statuses transformer.
type ProjectStatusesPayload struct {
	ProjectID  string              `json:"project_id"`
	ProjectKey string              `json:"project_key"`
	IssueTypes []IssueTypeStatuses `json:"issue_types"`
}

// DevStatusRawPayload is the staged payload of one issue's dev-status
// response.
type DevStatusRawPayload struct {
	IssueID   string            `json:"issue_id"`
	IssueKey  string            `json:"issue_key"`
	DevStatus DevStatusResponse `json:"dev_status"`
}

// DevStatusPR is one pull request inside a dev-status detail block.
type DevStatusPR struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name,omitempty"`
	URL               string `json:"url,omitempty"`
	Status            string `json:"status,omitempty"`
	PullRequestNumber *int   `json:"pullRequestNumber,omitempty"`
	RepositoryID      string `json:"repositoryId,omitempty"`
	RepositoryName    string `json:"repositoryName,omitempty"`
	CommitSHA         string `json:"commitId,omitempty"`
	Source            struct {
		Branch string `json:"branch,omitempty"`
		URL    string `json:"url,omitempty"`
	} `json:"source,omitempty"`
	LastUpdate Time `json:"lastUpdate,omitempty"`
}

// DevStatusDetail is one application block of a dev-status response.
type DevStatusDetail struct {
	PullRequests []DevStatusPR     `json:"pullRequests"`
	Branches     []json.RawMessage `json:"branches"`
	Repositories []json.RawMessage `json:"repositories"`
}

// DevStatusResponse is the body of the per-issue dev-status endpoint.
type DevStatusResponse struct {
	Detail []DevStatusDetail `json:"detail"`
}

// HasUsefulData reports whether the response contains any repositories,
// pull requests, or branches worth persisting.
func (r *DevStatusResponse) HasUsefulData() bool {
	if r == nil {
		return false
	}
	for _, d := range r.Detail {
		if len(d.PullRequests) > 0 || len(d.Branches) > 0 || len(d.Repositories) > 0 {
			return true
		}
	}
	return false
}
