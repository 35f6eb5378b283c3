package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxStringLength caps every sanitized string, counted in runes so multi-byte
// text is never split mid-character
const MaxStringLength = 10000

var (
	angleBrackets = regexp.MustCompile(`[<>]`)
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// String strips script-injection sequences from a single value: angle
// brackets, javascript: scheme prefixes, and inline event-handler attribute
// patterns. The value is trimmed and capped at MaxStringLength. The function
// is idempotent. This is defense in depth only; downstream consumers must
// still encode on output.
func String(s string) string {
	s = angleBrackets.ReplaceAllString(s, "")
	// Stripping a match can splice a new one together ("javajavascript:script:"),
	// so scrub until the value is stable.
	for {
		next := jsScheme.ReplaceAllString(s, "")
		next = eventHandler.ReplaceAllString(next, "")
		if next == s {
			break
		}
		s = next
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxStringLength {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:MaxStringLength]))
	}
	return s
}

// Value sanitizes a decoded JSON value recursively, walking nested objects
// and arrays. Non-string scalars pass through untouched.
func Value(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return String(val)
	case map[string]interface{}:
		for k, item := range val {
			val[k] = Value(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = Value(item)
		}
		return val
	default:
		return v
	}
}
