// Package jira is the provider client: a stateless, paginated, retrying
// HTTP client per integration. Credentials are injected per client and
// never cached across workers.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/logging"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

const (
	// maxPageSize is the provider's hard cap on page sizes.
	maxPageSize = 100

	defaultRequestTimeout = 30 * time.Second
	defaultFetchTimeout   = 30 * time.Minute
)

// Config tunes the client's timeouts, page size and retry policy.
type Config struct {
	RequestTimeout time.Duration
	FetchTimeout   time.Duration
	PageSize       int
	MaxRetries     int
}

// PageFunc is invoked once per fetched page so upstream can stream status.
type PageFunc func(page *SearchResponse) error

// Client talks to one integration's provider instance.
type Client struct {
	baseURL      string
	email        string
	apiToken     string
	httpClient   *http.Client
	pageSize     int
	maxRetries   int
	fetchTimeout time.Duration
	// retryInterval seeds the backoff schedule; tests shrink it.
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewClient builds a provider client for one integration. creds are the
// decrypted integration credentials.
func NewClient(baseURL string, creds models.IntegrationCredentials, cfg Config, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = maxPageSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		email:         creds.Email,
		apiToken:      creds.APIToken,
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		pageSize:      cfg.PageSize,
		maxRetries:    cfg.MaxRetries,
		fetchTimeout:  cfg.FetchTimeout,
		retryInterval: 2 * time.Second,
		logger:        logger.Named("jira-client"),
	}
}

// PageSize returns the effective page size after provider capping.
func (c *Client) PageSize() int { return c.pageSize }

// do performs one HTTP call with the retry policy: up to MaxRetries attempts
// with exponential backoff (2^n seconds) on transient failures (5xx,
// connection errors). 404 surfaces as apperrors.ErrNotFound; 429 surfaces as
// a RateLimitError without retry.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.Multiplier = 2.0
	bo.MaxInterval = 30 * time.Second

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.email, c.apiToken)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Connection errors and timeouts are transient.
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(apperrors.ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests:
			return backoff.Permanent(&apperrors.RateLimitError{ResetAt: parseRateLimitReset(resp)})
		case resp.StatusCode >= 500:
			return fmt.Errorf("provider returned %d for %s", resp.StatusCode, path)
		case resp.StatusCode >= 400:
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("provider returned %d for %s: %s", resp.StatusCode, path, payload))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response from %s: %w", path, err))
		}
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries-1)), ctx))
	if err != nil {
		// Provider 4xx bodies can echo auth headers back.
		c.logger.Warn("Provider request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("error", logging.SanitizeError(err)))
	}
	return err
}

// parseRateLimitReset extracts the reset instant from rate-limit response
// headers. Retry-After carries delay seconds; X-RateLimit-Reset carries an
// absolute timestamp.
func parseRateLimitReset(resp *http.Response) time.Time {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Now().UTC().Add(time.Duration(secs) * time.Second).Truncate(time.Second)
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC()
		}
	}
	return time.Time{}
}

// SearchProjects fetches all projects expanded with issue types, paging with
// startAt/maxResults until the last page.
func (c *Client) SearchProjects(ctx context.Context, keys []string) ([]ProjectPayload, error) {
	var projects []ProjectPayload
	startAt := 0

	for {
		query := url.Values{
			"expand":     {"issueTypes"},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(c.pageSize)},
		}
		if len(keys) > 0 {
			query.Set("keys", strings.Join(keys, ","))
		}

		var page ProjectSearchResponse
		if err := c.do(ctx, http.MethodGet, "/rest/api/3/project/search", query, nil, &page); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}

		projects = append(projects, page.Values...)
		if page.IsLast || len(page.Values) == 0 {
			return projects, nil
		}
		startAt += len(page.Values)
	}
}

// ProjectStatuses fetches the statuses of one project, grouped by issue type.
func (c *Client) ProjectStatuses(ctx context.Context, projectID string) ([]IssueTypeStatuses, error) {
	var groups []IssueTypeStatuses
	err := c.do(ctx, http.MethodGet, "/rest/api/3/project/"+projectID+"/statuses", nil, nil, &groups)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return groups, err
}

// SearchFields fetches the full custom-field catalog, paging until the last
// page.
func (c *Client) SearchFields(ctx context.Context) ([]FieldPayload, error) {
	var fields []FieldPayload
	startAt := 0

	for {
		query := url.Values{
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(c.pageSize)},
		}

		var page FieldSearchResponse
		if err := c.do(ctx, http.MethodGet, "/rest/api/3/field/search", query, nil, &page); err != nil {
			return nil, err
		}

		fields = append(fields, page.Values...)
		if page.IsLast || len(page.Values) == 0 {
			return fields, nil
		}
		startAt += len(page.Values)
	}
}

// SearchIssues fetches one page of the JQL search with embedded changelogs.
func (c *Client) SearchIssues(ctx context.Context, jql, pageToken string) (*SearchResponse, error) {
	req := SearchRequest{
		JQL:           jql,
		MaxResults:    c.pageSize,
		Fields:        []string{"*all"},
		Expand:        []string{"changelog"},
		NextPageToken: pageToken,
	}

	var page SearchResponse
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/search/jql", nil, req, &page); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return &SearchResponse{IsLast: true}, nil
		}
		return nil, err
	}
	return &page, nil
}

// SearchIssuesPages streams every page of a JQL search through onPage. The
// whole loop is bounded by the fetch timeout; exceeding it returns a
// FetchTimeoutError so the caller can retry or dead-letter.
func (c *Client) SearchIssuesPages(ctx context.Context, jql string, onPage PageFunc) error {
	started := time.Now()
	deadline := started.Add(c.fetchTimeout)
	token := ""

	for {
		if time.Now().After(deadline) {
			return &apperrors.FetchTimeoutError{Elapsed: time.Since(started)}
		}

		page, err := c.SearchIssues(ctx, jql, token)
		if err != nil {
			return err
		}

		if len(page.Issues) > 0 {
			if err := onPage(page); err != nil {
				return err
			}
		}

		if page.IsLast || page.NextPageToken == "" {
			return nil
		}
		token = page.NextPageToken
	}
}

// ApproximateCount returns the provider's estimate of issues matching jql.
func (c *Client) ApproximateCount(ctx context.Context, jql string) (int, error) {
	var out ApproximateCountResponse
	err := c.do(ctx, http.MethodPost, "/rest/api/3/search/approximate-count", nil, map[string]string{"jql": jql}, &out)
	if errors.Is(err, apperrors.ErrNotFound) {
		return 0, nil
	}
	return out.Count, err
}

// DevStatus fetches the source-control activity index for one issue. A 404
// means no data, not an error.
func (c *Client) DevStatus(ctx context.Context, issueID string) (*DevStatusResponse, error) {
	query := url.Values{
		"issueId":         {issueID},
		"applicationType": {"GitHub"},
		"dataType":        {"branch"},
	}

	var out DevStatusResponse
	err := c.do(ctx, http.MethodGet, "/rest/dev-status/latest/issue/detail", query, nil, &out)
	if errors.Is(err, apperrors.ErrNotFound) {
		return &DevStatusResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
