// Package secrets inspects and masks secrets file content. The file itself is
// opaque configuration owned by the deployed application; this package only
// extracts enough structure to report declared keys and to keep values out of
// logs and stored step output.
//
// This is part of the Functional Core - all functions are pure with no I/O.
package secrets

import (
	"strings"
)

// Masked replaces secret values wherever they leak into output.
const Masked = "********"

// Entry is one declared secret: a key and its raw value.
type Entry struct {
	Key   string
	Value string
}

// Parse extracts key/value entries from secrets content. Both dotenv style
// (KEY=value) and TOML style (key = "value") assignments are recognized;
// comments, section headers, and blank lines are skipped. Unparseable lines
// are ignored rather than rejected - the content is opaque by contract.
func Parse(content []byte) []Entry {
	var entries []Entry

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "" || value == "" {
			continue
		}

		entries = append(entries, Entry{Key: key, Value: value})
	}

	return entries
}

// Keys returns the declared keys in order, without values.
func Keys(content []byte) []string {
	entries := Parse(content)
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Mask replaces every secret value occurring in s. Values shorter than 4
// characters are not searched for: masking "db" would shred ordinary words,
// and values that short are not meaningful credentials.
func Mask(s string, entries []Entry) string {
	for _, e := range entries {
		if len(e.Value) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, e.Value, Masked)
	}
	return s
}

// unquote strips one layer of matching single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
