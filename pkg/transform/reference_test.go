package transform

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// fakeReference is an in-memory ReferenceRepository covering the methods the
// reference transformer touches. Unimplemented methods panic through the
// embedded nil interface.
type fakeReference struct {
	repositories.ReferenceRepository

	projectIDs map[string]uuid.UUID
	witIDs     map[string]uuid.UUID
	statusIDs  map[string]uuid.UUID

	witMappings    map[string]uuid.UUID
	statusMappings map[string]uuid.UUID

	insertedProjects []*models.Project
	updatedProjects  []*models.Project
	insertedWits     []*models.Wit
	updatedWits      []*models.Wit
	insertedStatuses []*models.Status
	updatedStatuses  []*models.Status

	projectWitEdges    []models.ProjectWit
	projectStatusEdges []models.ProjectStatus

	upsertedFields []*models.CustomField
	updatedSince   []*models.Status

	autoMapCalls int
	autoMapErr   error
}

func newFakeReference() *fakeReference {
	return &fakeReference{
		projectIDs:     map[string]uuid.UUID{},
		witIDs:         map[string]uuid.UUID{},
		statusIDs:      map[string]uuid.UUID{},
		witMappings:    map[string]uuid.UUID{},
		statusMappings: map[string]uuid.UUID{},
	}
}

func (f *fakeReference) ProjectIDsByExternalID(_ context.Context, _ uuid.UUID) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(f.projectIDs))
	for k, v := range f.projectIDs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeReference) WitIDsByExternalID(_ context.Context, _ uuid.UUID) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(f.witIDs))
	for k, v := range f.witIDs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeReference) StatusIDsByExternalID(_ context.Context, _ uuid.UUID) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(f.statusIDs))
	for k, v := range f.statusIDs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeReference) WitMappingIDs(_ context.Context, _ uuid.UUID) (map[string]uuid.UUID, error) {
	return f.witMappings, nil
}

func (f *fakeReference) StatusMappingIDs(_ context.Context, _ uuid.UUID) (map[string]uuid.UUID, error) {
	return f.statusMappings, nil
}

func (f *fakeReference) InsertProjects(_ context.Context, projects []*models.Project) error {
	for _, p := range projects {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
	}
	f.insertedProjects = append(f.insertedProjects, projects...)
	return nil
}

func (f *fakeReference) UpdateProjects(_ context.Context, projects []*models.Project) error {
	f.updatedProjects = append(f.updatedProjects, projects...)
	return nil
}

func (f *fakeReference) InsertWits(_ context.Context, wits []*models.Wit) error {
	for _, w := range wits {
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
	}
	f.insertedWits = append(f.insertedWits, wits...)
	return nil
}

func (f *fakeReference) UpdateWits(_ context.Context, wits []*models.Wit) error {
	f.updatedWits = append(f.updatedWits, wits...)
	return nil
}

func (f *fakeReference) InsertStatuses(_ context.Context, statuses []*models.Status) error {
	for _, s := range statuses {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
	}
	f.insertedStatuses = append(f.insertedStatuses, statuses...)
	return nil
}

func (f *fakeReference) UpdateStatuses(_ context.Context, statuses []*models.Status) error {
	f.updatedStatuses = append(f.updatedStatuses, statuses...)
	return nil
}

func (f *fakeReference) LinkProjectWits(_ context.Context, edges []models.ProjectWit) error {
	f.projectWitEdges = append(f.projectWitEdges, edges...)
	return nil
}

func (f *fakeReference) LinkProjectStatuses(_ context.Context, edges []models.ProjectStatus) error {
	f.projectStatusEdges = append(f.projectStatusEdges, edges...)
	return nil
}

func (f *fakeReference) StatusesUpdatedSince(_ context.Context, _ uuid.UUID, _ time.Time) ([]*models.Status, error) {
	return f.updatedSince, nil
}

func (f *fakeReference) UpsertCustomFields(_ context.Context, fields []*models.CustomField) error {
	f.upsertedFields = append(f.upsertedFields, fields...)
	return nil
}

func (f *fakeReference) AutoMapSpecialFields(_ context.Context, _ uuid.UUID) error {
	f.autoMapCalls++
	return f.autoMapErr
}

type fakeReporter struct {
	stepFinished int
}

func (f *fakeReporter) StepFinished(_ context.Context, _ *queue.Message) error {
	f.stepFinished++
	return nil
}

func referenceMessage() *queue.Message {
	return &queue.Message{
		TenantID:      uuid.New(),
		IntegrationID: uuid.New(),
		JobID:         uuid.New(),
		Token:         queue.NewToken(),
		Provider:      "jira",
	}
}

func rawWith(t *testing.T, payload any) *models.RawExtractionData {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.RawExtractionData{ID: uuid.New(), RawData: data}
}

func TestTransformProjects_PartitionsAndDeduplicates(t *testing.T) {
	ref := newFakeReference()
	existingProject := uuid.New()
	ref.projectIDs["1001"] = existingProject
	storyMapping := uuid.New()
	ref.witMappings["story"] = storyMapping

	tr := NewReferenceTransformer(zaptest.NewLogger(t), ref, nil)
	msg := referenceMessage()

	// Story repeats across both projects; it must be upserted once.
	payload := []jira.ProjectPayload{
		{ID: "1001", Key: "HP", Name: "Health Pulse", ProjectTypeKey: "software",
			IssueTypes: []jira.IssueTypePayload{
				{ID: "10", Name: "Story"},
				{ID: "11", Name: "Bug"},
			}},
		{ID: "1002", Key: "OPS", Name: "Operations",
			IssueTypes: []jira.IssueTypePayload{
				{ID: "10", Name: "Story"},
			}},
	}

	out, err := tr.TransformProjects(context.Background(), msg, rawWith(t, payload))
	require.NoError(t, err)
	assert.Nil(t, out)

	require.Len(t, ref.updatedProjects, 1)
	assert.Equal(t, existingProject, ref.updatedProjects[0].ID)
	require.Len(t, ref.insertedProjects, 1)
	assert.Equal(t, "1002", ref.insertedProjects[0].ExternalID)
	assert.NotEqual(t, uuid.Nil, ref.insertedProjects[0].ID)

	require.Len(t, ref.insertedWits, 2)
	byName := map[string]*models.Wit{}
	for _, w := range ref.insertedWits {
		byName[w.OriginalName] = w
	}
	require.NotNil(t, byName["Story"].MappingID)
	assert.Equal(t, storyMapping, *byName["Story"].MappingID)
	assert.Nil(t, byName["Bug"].MappingID)

	// HP links Story+Bug, OPS links Story again.
	assert.Len(t, ref.projectWitEdges, 3)
	assert.Equal(t, 1, ref.autoMapCalls)
}

func TestTransformProjects_RejectsMalformedPayload(t *testing.T) {
	tr := NewReferenceTransformer(zaptest.NewLogger(t), newFakeReference(), nil)

	_, err := tr.TransformProjects(context.Background(), referenceMessage(),
		&models.RawExtractionData{RawData: json.RawMessage(`{"not":"a list"}`)})
	assert.Error(t, err)
}

func TestTransformStatuses_UpsertsDistinctAndLinks(t *testing.T) {
	ref := newFakeReference()
	projectID := uuid.New()
	ref.projectIDs["1001"] = projectID
	existingDone := uuid.New()
	ref.statusIDs["3"] = existingDone
	ref.statusMappings["done"] = uuid.New()

	tr := NewReferenceTransformer(zaptest.NewLogger(t), ref, nil)
	msg := referenceMessage()

	// "In Progress" appears under both issue types but counts once.
	payload := jira.ProjectStatusesPayload{
		ProjectID:  "1001",
		ProjectKey: "HP",
		IssueTypes: []jira.IssueTypeStatuses{
			{ID: "10", Name: "Story", Statuses: []jira.StatusPayload{
				{ID: "1", Name: "To Do", StatusCategory: jira.StatusCategory{Name: "new"}},
				{ID: "2", Name: "In Progress", StatusCategory: jira.StatusCategory{Name: "indeterminate"}},
			}},
			{ID: "11", Name: "Bug", Statuses: []jira.StatusPayload{
				{ID: "2", Name: "In Progress", StatusCategory: jira.StatusCategory{Name: "indeterminate"}},
				{ID: "3", Name: "Done", StatusCategory: jira.StatusCategory{Name: "done"}},
			}},
		},
	}

	out, err := tr.TransformStatuses(context.Background(), msg, rawWith(t, payload))
	require.NoError(t, err)
	assert.Nil(t, out)

	require.Len(t, ref.insertedStatuses, 2)
	require.Len(t, ref.updatedStatuses, 1)
	assert.Equal(t, existingDone, ref.updatedStatuses[0].ID)
	assert.NotNil(t, ref.updatedStatuses[0].MappingID)
	assert.Equal(t, "indeterminate", ref.insertedStatuses[1].Category)

	assert.Len(t, ref.projectStatusEdges, 3)
	for _, e := range ref.projectStatusEdges {
		assert.Equal(t, projectID, e.ProjectID)
	}
}

func TestTransformStatuses_FansOutOnLastItem(t *testing.T) {
	ref := newFakeReference()
	ref.projectIDs["1001"] = uuid.New()
	ref.updatedSince = []*models.Status{
		{ID: uuid.New(), ExternalID: "1"},
		{ID: uuid.New(), ExternalID: "2"},
	}

	tr := NewReferenceTransformer(zaptest.NewLogger(t), ref, nil)
	msg := referenceMessage()
	msg.FirstItem = true
	msg.LastItem = true
	msg.LastJobItem = true
	since := time.Now().UTC()
	msg.NewLastSyncDate = &since

	raw := rawWith(t, jira.ProjectStatusesPayload{ProjectID: "1001", ProjectKey: "HP"})
	out, err := tr.TransformStatuses(context.Background(), msg, raw)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.True(t, out[0].FirstItem)
	assert.False(t, out[0].LastItem)
	assert.True(t, out[1].LastItem)
	assert.True(t, out[1].LastJobItem)
	require.NotNil(t, out[1].ExternalID)
	assert.Equal(t, "2", *out[1].ExternalID)
	require.NotNil(t, out[0].RawDataID)
	assert.Equal(t, raw.ID, *out[0].RawDataID)
}

func TestTransformStatuses_NothingUpdatedFinishesStep(t *testing.T) {
	ref := newFakeReference()
	ref.projectIDs["1001"] = uuid.New()
	reporter := &fakeReporter{}

	tr := NewReferenceTransformer(zaptest.NewLogger(t), ref, reporter)
	msg := referenceMessage()
	msg.LastItem = true
	since := time.Now().UTC()
	msg.NewLastSyncDate = &since

	out, err := tr.TransformStatuses(context.Background(), msg,
		rawWith(t, jira.ProjectStatusesPayload{ProjectID: "1001", ProjectKey: "HP"}))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 1, reporter.stepFinished)
}

func TestTransformCustomFields_ToleratesMissingMapping(t *testing.T) {
	ref := newFakeReference()
	ref.autoMapErr = apperrors.ErrNotFound

	tr := NewReferenceTransformer(zaptest.NewLogger(t), ref, nil)
	payload := []jira.FieldPayload{{ID: "customfield_10020", Name: "Sprint"}}
	payload[0].Schema.Type = "array"
	payload[0].Schema.Custom = "com.pyxis.greenhopper.jira:gh-sprint"

	out, err := tr.TransformCustomFields(context.Background(), referenceMessage(), rawWith(t, payload))
	require.NoError(t, err)
	assert.Nil(t, out)

	require.Len(t, ref.upsertedFields, 1)
	assert.Equal(t, "Sprint", ref.upsertedFields[0].Name)
	assert.Equal(t, "array", ref.upsertedFields[0].FieldType)
	assert.Equal(t, 1, ref.autoMapCalls)
}
