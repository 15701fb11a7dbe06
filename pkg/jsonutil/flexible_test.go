package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{"string value", json.RawMessage(`"hello"`), "hello"},
		{"empty string", json.RawMessage(`""`), ""},

		// numeric custom fields arrive as numbers, not strings
		{"integer", json.RawMessage(`42`), "42"},
		{"negative integer", json.RawMessage(`-7`), "-7"},
		{"zero", json.RawMessage(`0`), "0"},
		{"float", json.RawMessage(`3.14`), "3.14"},
		{"id beyond float53 keeps its digits", json.RawMessage(`9007199254740993`), "9007199254740993"},

		{"boolean true", json.RawMessage(`true`), "true"},
		{"boolean false", json.RawMessage(`false`), "false"},

		{"null", json.RawMessage(`null`), ""},
		{"empty raw message", json.RawMessage{}, ""},
		{"nil raw message", nil, ""},

		// structured values pass through raw for the caller to decode
		{"object falls back to raw", json.RawMessage(`{"key":"value"}`), `{"key":"value"}`},
		{"array falls back to raw", json.RawMessage(`[1,2,3]`), `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlexibleStringValue(tt.input); got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", string(tt.input), got, tt.want)
			}
		})
	}
}
