package transform

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jsonutil"
)

// FlattenFieldValue renders an arbitrary provider field value as a display
// string. Users collapse to displayName, options to value or name, arrays to
// comma-joined display values. Null renders empty.
func FlattenFieldValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.Trim(string(raw), `"`)
	}
	return flattenValue(v)
}

func flattenValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := flattenValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case map[string]any:
		for _, key := range []string{"displayName", "value", "name", "key"} {
			if s, ok := val[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	default:
		return ""
	}
}

// DevelopmentFlag derives the development boolean from a raw field value:
// true iff the value carries data. Empty strings, "{}", "[]", empty objects
// and arrays, and null are all false; any other non-null scalar is true.
func DevelopmentFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.TrimSpace(string(raw)) != ""
	}

	switch val := v.(type) {
	case nil:
		return false
	case string:
		s := strings.TrimSpace(val)
		return s != "" && s != "{}" && s != "[]"
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		// numbers and booleans count as data
		return true
	}
}

// StoryPoints coerces a raw field value to a float pointer, nil when the
// value is absent or unparseable.
func StoryPoints(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}

	var flex jsonutil.FlexibleFloat
	if err := json.Unmarshal(raw, &flex); err != nil {
		return nil
	}
	f := float64(flex)
	return &f
}

// SprintEntry is one sprint reference parsed from the mapped sprints field.
type SprintEntry struct {
	ExternalID string
	BoardID    string
	Name       string
	State      string
}

// legacySprintPattern matches the classic serialized sprint form:
// com.atlassian...Sprint@1a2b[id=11,rapidViewId=2,state=ACTIVE,name=Sprint 3,...]
var legacySprintPattern = regexp.MustCompile(`\[(.+)\]$`)

// SprintEntries parses the mapped sprints field. Modern payloads carry an
// array of objects; older ones an array of serialized strings. Entries
// without an id are dropped.
func SprintEntries(raw json.RawMessage) []SprintEntry {
	if len(raw) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	var entries []SprintEntry
	for _, item := range items {
		var obj struct {
			ID      jsonutil.FlexibleString `json:"id"`
			BoardID jsonutil.FlexibleString `json:"boardId"`
			Name    string                  `json:"name"`
			State   string                  `json:"state"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && obj.ID != "" {
			entries = append(entries, SprintEntry{
				ExternalID: string(obj.ID),
				BoardID:    string(obj.BoardID),
				Name:       obj.Name,
				State:      obj.State,
			})
			continue
		}

		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if e, ok := parseLegacySprint(s); ok {
				entries = append(entries, e)
			}
		}
	}
	return entries
}

func parseLegacySprint(s string) (SprintEntry, bool) {
	m := legacySprintPattern.FindStringSubmatch(s)
	if m == nil {
		return SprintEntry{}, false
	}

	var e SprintEntry
	for _, pair := range strings.Split(m[1], ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || value == "<null>" {
			continue
		}
		switch key {
		case "id":
			e.ExternalID = value
		case "rapidViewId":
			e.BoardID = value
		case "name":
			e.Name = value
		case "state":
			e.State = value
		}
	}
	return e, e.ExternalID != ""
}
