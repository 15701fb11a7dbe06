package database

import (
	"strings"
	"unicode/utf8"
)

// SanitizeUTF8 re-encodes s to valid UTF-8, replacing invalid byte sequences
// with U+FFFD. Provider payloads occasionally carry unpaired surrogates that
// postgres rejects; NUL bytes are dropped for the same reason.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	return strings.ReplaceAll(s, "\x00", "")
}
