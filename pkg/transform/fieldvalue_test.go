package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenFieldValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"null", `null`, ""},
		{"string", `"hello"`, "hello"},
		{"integer", `42`, "42"},
		{"float", `5.5`, "5.5"},
		{"bool", `true`, "true"},
		{"user", `{"accountId":"a1","displayName":"Jane Doe"}`, "Jane Doe"},
		{"option value", `{"id":"1","value":"High"}`, "High"},
		{"option name", `{"id":"1","name":"Backend"}`, "Backend"},
		{"array of options", `[{"value":"a"},{"value":"b"}]`, "a,b"},
		{"array with nulls", `["x",null,"y"]`, "x,y"},
		{"empty object", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlattenFieldValue(json.RawMessage(tt.raw)))
		})
	}
}

func TestDevelopmentFlag(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"absent", ``, false},
		{"null", `null`, false},
		{"empty string", `""`, false},
		{"braces string", `"{}"`, false},
		{"brackets string", `"[]"`, false},
		{"empty array", `[]`, false},
		{"empty object", `{}`, false},
		{"object with data", `{"some":"x"}`, true},
		{"nonempty string", `"{json={pullrequest={...}}}"`, true},
		{"true", `true`, true},
		{"array with element", `["x"]`, true},
		{"number", `1`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DevelopmentFlag(json.RawMessage(tt.raw)))
		})
	}
}

func TestStoryPoints(t *testing.T) {
	if got := StoryPoints(json.RawMessage(`5.5`)); assert.NotNil(t, got) {
		assert.Equal(t, 5.5, *got)
	}
	if got := StoryPoints(json.RawMessage(`"5.5"`)); assert.NotNil(t, got) {
		assert.Equal(t, 5.5, *got)
	}
	assert.Nil(t, StoryPoints(json.RawMessage(`"abc"`)))
	assert.Nil(t, StoryPoints(json.RawMessage(`null`)))
	assert.Nil(t, StoryPoints(nil))
}

func TestSprintEntries_Objects(t *testing.T) {
	raw := `[{"id":11,"boardId":2,"name":"Sprint 3","state":"active"},{"id":12,"name":"Sprint 4","state":"future"}]`

	entries := SprintEntries(json.RawMessage(raw))

	require.Len(t, entries, 2)
	assert.Equal(t, SprintEntry{ExternalID: "11", BoardID: "2", Name: "Sprint 3", State: "active"}, entries[0])
	assert.Equal(t, "12", entries[1].ExternalID)
}

func TestSprintEntries_LegacyStrings(t *testing.T) {
	raw := `["com.atlassian.greenhopper.service.sprint.Sprint@1a2b[id=11,rapidViewId=2,state=ACTIVE,name=Sprint 3,startDate=<null>]"]`

	entries := SprintEntries(json.RawMessage(raw))

	require.Len(t, entries, 1)
	assert.Equal(t, "11", entries[0].ExternalID)
	assert.Equal(t, "2", entries[0].BoardID)
	assert.Equal(t, "Sprint 3", entries[0].Name)
	assert.Equal(t, "ACTIVE", entries[0].State)
}

func TestSprintEntries_InvalidInput(t *testing.T) {
	assert.Nil(t, SprintEntries(json.RawMessage(`"not an array"`)))
	assert.Nil(t, SprintEntries(nil))
	assert.Empty(t, SprintEntries(json.RawMessage(`[{"name":"no id"}]`)))
}
