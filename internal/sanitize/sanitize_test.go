package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestString_StripsInjectionPatterns(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"script tags", "<script>alert(1)</script>hello", "scriptalert(1)/scripthello"},
		{"angle brackets", "a < b > c", "a  b  c"},
		{"javascript scheme", "javascript:alert(1)", "alert(1)"},
		{"javascript scheme mixed case", "JavaScript:alert(1)", "alert(1)"},
		{"event handler", `img onerror=alert(1)`, "img alert(1)"},
		{"event handler spaced", `img onclick = alert(1)`, "img  alert(1)"},
		{"plain text untouched", "Acme Corp & Sons", "Acme Corp & Sons"},
		{"trims whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.input))
		})
	}
}

func TestString_Idempotent(t *testing.T) {
	inputs := []string{
		"<script>alert('xss')</script>",
		"javascript:void(0)",
		// Removing an inner match must not leave a fresh one behind
		"javajavascript:script:alert(1)",
		"onclick=x onclick=y",
		"ordinary text",
		strings.Repeat("a", MaxStringLength+500),
	}
	for _, input := range inputs {
		once := String(input)
		assert.Equal(t, once, String(once), "sanitize(sanitize(x)) != sanitize(x) for %q", input)
	}
}

func TestString_CapsLength(t *testing.T) {
	long := strings.Repeat("x", MaxStringLength+100)
	got := String(long)
	assert.Len(t, got, MaxStringLength)
}

func TestString_CapCountsRunesNotBytes(t *testing.T) {
	long := strings.Repeat("é", MaxStringLength+100)
	got := String(long)
	assert.Equal(t, MaxStringLength, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestValue_WalksNestedStructures(t *testing.T) {
	input := map[string]interface{}{
		"name": "<b>Acme</b>",
		"tags": []interface{}{"javascript:x", "ok", 42},
		"nested": map[string]interface{}{
			"note":  "a<script>b",
			"count": float64(3),
		},
	}

	got := Value(input).(map[string]interface{})

	assert.Equal(t, "bAcme/b", got["name"])
	tags := got["tags"].([]interface{})
	assert.Equal(t, "x", tags[0])
	assert.Equal(t, "ok", tags[1])
	assert.Equal(t, 42, tags[2])
	nested := got["nested"].(map[string]interface{})
	assert.Equal(t, "ascriptb", nested["note"])
	assert.Equal(t, float64(3), nested["count"])
}
