package observability

import (
	"regexp"
	"strings"
	"unicode"
)

const redactedValue = "[REDACTED]"

// Field names that may carry credentials: ingestion tokens, DSNs, bearer headers.
var credentialField = regexp.MustCompile(`(?i)token|password|secret|authorization|dsn`)

// printable drops control characters other than tab, so log values stay on one line, and keeps
// at most limit runes.
func printable(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, s)
	if runes := []rune(s); len(runes) > limit {
		s = string(runes[:limit])
	}
	return s
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return printable(route, 180)
}

func SanitizeMethod(method string) string {
	return printable(method, 10)
}

// SanitizeFields returns a copy of fields with credential values masked and strings made printable.
func SanitizeFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if credentialField.MatchString(k) {
			out[k] = redactedValue
			continue
		}
		switch typed := v.(type) {
		case string:
			out[k] = printable(typed, 1024)
		case error:
			out[k] = printable(typed.Error(), 1024)
		default:
			out[k] = v
		}
	}
	return out
}
