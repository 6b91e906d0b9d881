package textutil

import (
	"strings"
	"unicode"
)

// NormalizeStringMap trims keys and values, removing entries with empty keys. When dropEmpty is
// set, entries whose trimmed value is empty are removed too. A result with no entries is nil.
func NormalizeStringMap(values map[string]string, dropEmpty bool) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || (dropEmpty && value == "") {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// CollapseSpace trims s and folds every run of whitespace or control characters into one space.
func CollapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte(' ')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
