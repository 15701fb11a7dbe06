package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// stubFactory hands out a client pointed at a test server.
type stubFactory struct {
	client *jira.Client
}

func (f *stubFactory) ClientFor(_ *models.Integration) (*jira.Client, error) {
	return f.client, nil
}

// fakeRawData records inserts in memory.
type fakeRawData struct {
	repositories.RawDataRepository
	mu   sync.Mutex
	rows []*models.RawExtractionData
}

func (f *fakeRawData) Insert(_ context.Context, raw *models.RawExtractionData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raw.ID == uuid.Nil {
		raw.ID = uuid.New()
	}
	f.rows = append(f.rows, raw)
	return nil
}

// fakeManager records published envelopes per step.
type fakeManager struct {
	mu        sync.Mutex
	published map[queue.Step][]*queue.Message
}

func newFakeManager() *fakeManager {
	return &fakeManager{published: make(map[queue.Step][]*queue.Message)}
}

func (m *fakeManager) SetupQueues(context.Context) error { return nil }
func (m *fakeManager) PublishExtractionJob(_ context.Context, _ models.Tier, msg *queue.Message) error {
	return m.record(queue.StepExtraction, msg)
}
func (m *fakeManager) PublishTransformJob(_ context.Context, _ models.Tier, msg *queue.Message) error {
	return m.record(queue.StepTransform, msg)
}
func (m *fakeManager) PublishEmbeddingJob(_ context.Context, _ models.Tier, msg *queue.Message) error {
	return m.record(queue.StepEmbedding, msg)
}
func (m *fakeManager) GetSingleMessage(context.Context, queue.Step, models.Tier, time.Duration) (queue.Delivery, error) {
	return nil, queue.ErrNoMessage
}
func (m *fakeManager) Close() {}

func (m *fakeManager) record(step queue.Step, msg *queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[step] = append(m.published[step], msg)
	return nil
}

type staticTier struct{}

func (staticTier) TierOf(context.Context, uuid.UUID) (models.Tier, error) {
	return models.TierFree, nil
}

// fakeReference serves only the custom fields mapping.
type fakeReference struct {
	repositories.ReferenceRepository
	mapping *models.CustomFieldsMapping
}

func (f *fakeReference) GetCustomFieldsMapping(context.Context, uuid.UUID) (*models.CustomFieldsMapping, error) {
	if f.mapping == nil {
		return nil, apperrors.ErrNotFound
	}
	return f.mapping, nil
}

func testEnvelope() *queue.Message {
	return &queue.Message{
		TenantID:      uuid.New(),
		IntegrationID: uuid.New(),
		JobID:         uuid.New(),
		Token:         queue.NewToken(),
		Provider:      "jira",
	}
}

func issueJSON(id, key string, fields map[string]any) map[string]any {
	return map[string]any{"id": id, "key": key, "fields": fields}
}

func TestBuildJQL(t *testing.T) {
	threeDaysAgo := time.Now().Add(-73 * time.Hour)
	assert.Equal(t, "(project = X) AND updated >= -3d", BuildJQL("project = X", &threeDaysAgo, ""))

	assert.Equal(t, "(project = X) AND updated >= -1d", BuildJQL("project = X", nil, ""))

	future := time.Now().Add(time.Hour)
	assert.Equal(t, "updated >= -1d", BuildJQL("", &future, ""))

	assert.Equal(t, "project = Y AND status = Done", BuildJQL("project = X", nil, "project = Y AND status = Done"))
}

func TestIssueExtractor_FansOutPerIssue(t *testing.T) {
	devField := "customfield_10100"
	pageTwoServed := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/3/search/jql", r.URL.Path)

		var req jira.SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.NextPageToken == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"issues": []any{
					issueJSON("100", "P-1", map[string]any{"summary": "a", devField: map[string]any{"json": "x"}}),
					issueJSON("101", "P-2", map[string]any{"summary": "b"}),
				},
				"nextPageToken": "t2",
			})
			return
		}
		pageTwoServed = true
		json.NewEncoder(w).Encode(map[string]any{
			"issues": []any{issueJSON("102", "P-3", map[string]any{"summary": "c"})},
			"isLast": true,
		})
	}))
	defer server.Close()

	client := jira.NewClient(server.URL, models.IntegrationCredentials{}, jira.Config{}, zap.NewNop())
	rawData := &fakeRawData{}
	manager := newFakeManager()
	router := queue.NewRouter(manager, staticTier{})
	mapping := &models.CustomFieldsMapping{DevelopmentFieldID: &devField}

	e := NewIssueExtractor(zap.NewNop(), &stubFactory{client: client}, rawData,
		&fakeReference{mapping: mapping}, router)

	result, err := e.Run(context.Background(), testEnvelope(), &models.Integration{}, "project = X")

	require.NoError(t, err)
	assert.True(t, pageTwoServed)
	assert.Equal(t, 3, result.IssuesProcessed)
	require.Len(t, result.DevCandidates, 1)
	assert.Equal(t, "100", result.DevCandidates[0].ID)

	require.Len(t, rawData.rows, 3)
	for _, row := range rawData.rows {
		assert.Equal(t, models.TypeIssuesWithChangelogs, row.Type)
	}

	published := manager.published[queue.StepTransform]
	require.Len(t, published, 3)
	assert.True(t, published[0].FirstItem)
	assert.False(t, published[0].LastItem)
	assert.False(t, published[1].FirstItem)
	assert.True(t, published[2].LastItem)
	assert.False(t, published[2].LastJobItem)
	for _, msg := range published {
		require.NotNil(t, msg.RawDataID)
	}
}

func TestIssueExtractor_RateLimitMidRunStagesAllSeenIssues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jira.SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.NextPageToken == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"issues": []any{
					issueJSON("100", "P-1", map[string]any{"summary": "a"}),
					issueJSON("101", "P-2", map[string]any{"summary": "b"}),
				},
				"nextPageToken": "t2",
			})
			return
		}
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := jira.NewClient(server.URL, models.IntegrationCredentials{}, jira.Config{}, zap.NewNop())
	rawData := &fakeRawData{}
	manager := newFakeManager()

	e := NewIssueExtractor(zap.NewNop(), &stubFactory{client: client}, rawData,
		&fakeReference{}, queue.NewRouter(manager, staticTier{}))

	result, err := e.Run(context.Background(), testEnvelope(), &models.Integration{}, "project = X")

	var rle *apperrors.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2, result.IssuesProcessed)

	// Both issues seen before the 429 are staged and on the wire, so the
	// parked schedule resumes without losing the tail of the run.
	require.Len(t, rawData.rows, 2)
	published := manager.published[queue.StepTransform]
	require.Len(t, published, 2)
	assert.True(t, published[0].FirstItem)
	for _, msg := range published {
		require.NotNil(t, msg.RawDataID)
		assert.False(t, msg.LastItem)
	}
}

func TestIssueExtractor_ZeroIssuesPublishesMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"issues":[],"isLast":true}`)
	}))
	defer server.Close()

	client := jira.NewClient(server.URL, models.IntegrationCredentials{}, jira.Config{}, zap.NewNop())
	rawData := &fakeRawData{}
	manager := newFakeManager()

	e := NewIssueExtractor(zap.NewNop(), &stubFactory{client: client}, rawData,
		&fakeReference{}, queue.NewRouter(manager, staticTier{}))

	result, err := e.Run(context.Background(), testEnvelope(), &models.Integration{}, "project = X")

	require.NoError(t, err)
	assert.Zero(t, result.IssuesProcessed)
	assert.Empty(t, rawData.rows)

	published := manager.published[queue.StepTransform]
	require.Len(t, published, 1)
	assert.True(t, published[0].IsMarker())
	assert.True(t, published[0].FirstItem)
	assert.True(t, published[0].LastItem)
}
