// Package jsonutil tolerates the loosely-typed JSON the provider returns
// for custom-field values.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling
// fields where the provider returns numbers or booleans instead of strings.
// Null and empty input yield the empty string; objects and arrays fall back
// to their raw text.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	// Numbers stay literal so large IDs keep their precision.
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return string(raw)
	}

	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return string(raw)
	}
}
